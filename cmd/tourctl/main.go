package main

import "github.com/aussiebroadwan/tourbook/internal/tourctl"

func main() {
	tourctl.Execute()
}
