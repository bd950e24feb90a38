package cmd

// Version is the application version. It is intended to be overridden at
// build time:
//
//	go build -ldflags "-X github.com/akhilmat/ordermate/cmd.Version=1.2.0"
var Version = "0.1.0"
