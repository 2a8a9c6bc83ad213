package main

import (
	"github.com/adithyaa-s/atlasd/internal/cli"
	"github.com/adithyaa-s/atlasd/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
