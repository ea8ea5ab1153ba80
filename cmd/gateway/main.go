// Command gateway is the multi-channel AI agent gateway's entry point.
package main

import (
	"github.com/nextlevelbuilder/aobot-gateway/cmd"
)

func main() {
	cmd.Execute()
}
