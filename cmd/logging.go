package cmd

import "github.com/bnema/zerowrap"

// newLogger builds the structured logger shared by every subcommand.
func newLogger() zerowrap.Logger {
	return zerowrap.New(zerowrap.Config{Level: "info", Format: "console"})
}
