package main

import (
	"fmt"
	"os"

	"github.com/SherClockHolmes/webpush-go"
)

func main() {
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		fmt.Printf("Error generating VAPID keys: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("SWITCHBOARD_VAPID_PUBLIC_KEY=%s\n", publicKey)
	fmt.Printf("SWITCHBOARD_VAPID_PRIVATE_KEY=%s\n", privateKey)
}
