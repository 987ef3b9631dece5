package main

import (
	"os"

	"netreaper/cmd/internal/app"
)

func main() {
	// cobra has already printed the error.
	if err := app.Run(); err != nil {
		os.Exit(1)
	}
}
