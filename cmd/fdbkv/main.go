package main

import (
	"github.com/Wonshtrum/foundationdb-go/cmd/fdbkv/cmd"
)

func main() {
	cmd.Execute()
}
