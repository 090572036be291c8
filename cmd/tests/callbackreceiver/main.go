// Command callbackreceiver runs a local endpoint that accepts the
// gateway's status report callbacks and verifies their signatures.
// Register an actor with its callback URL pointed here to exercise
// deliveries end to end in the sandbox.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/NexusGateway/server/internal/callbacks"
	"github.com/NexusGateway/server/internal/config"
)

func main() {
	listen := flag.String("listen", ":9090", "listen address")
	secret := flag.String("secret", "", "signing secret (default: NEXUS_CALLBACK_SECRET, then the sandbox default)")
	maxSkew := flag.Duration("max-skew", 5*time.Minute, "maximum accepted timestamp age")
	flag.Parse()

	key := *secret
	if key == "" {
		key = os.Getenv("NEXUS_CALLBACK_SECRET")
	}
	if key == "" {
		key = config.DefaultCallbackSecret
		log.Println("no secret given, verifying with the sandbox default")
	}

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		receive(w, r, key, *maxSkew)
	})

	log.Printf("listening on %s", *listen)
	log.Fatal(http.ListenAndServe(*listen, nil))
}

func receive(w http.ResponseWriter, r *http.Request, secret string, maxSkew time.Duration) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	uetr := r.Header.Get(callbacks.HeaderUETR)
	timestamp := r.Header.Get(callbacks.HeaderTimestamp)
	signature := r.Header.Get(callbacks.HeaderSignature)

	fmt.Printf("--- callback at %s\n", time.Now().Format(time.RFC3339))
	fmt.Printf("uetr:    %s\n", uetr)
	fmt.Printf("type:    %s\n", r.Header.Get(callbacks.HeaderMessageType))
	fmt.Printf("status:  %s\n", r.Header.Get(callbacks.HeaderTransactionStatus))
	fmt.Printf("version: %s\n", r.Header.Get(callbacks.HeaderVersion))
	fmt.Printf("bytes:   %d\n", len(body))

	if !callbacks.VerifySignature(secret, timestamp, uetr, body, signature) {
		fmt.Println("signature: INVALID")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		fmt.Println("timestamp: unparseable")
		http.Error(w, "bad timestamp", http.StatusBadRequest)
		return
	}
	skew := time.Since(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkew {
		fmt.Printf("timestamp: stale by %s\n", skew)
		http.Error(w, "stale timestamp", http.StatusUnauthorized)
		return
	}

	fmt.Println("signature: ok")
	w.WriteHeader(http.StatusOK)
}
