package middleware

import "github.com/bnema/zerowrap"

func testLogger() zerowrap.Logger {
	return zerowrap.New(zerowrap.Config{Level: "error", Format: "console"})
}
