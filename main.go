package main

import "docloader/internal/app"

func main() {
	app.Execute()
}
