package main

import (
	"github.com/praetorian-inc/oauthkitchen/cmd"
)

func main() {
	cmd.Execute()
}
