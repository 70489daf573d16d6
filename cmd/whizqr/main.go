package main

import (
	"log"

	"github.com/Whizmburu/Whiz-qr/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
