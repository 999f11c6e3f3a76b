package main

import (
	"github.com/movio/orchestrator"
	_ "github.com/movio/orchestrator/plugins"
)

func main() {
	orchestrator.Main()
}
