// Command migrate-callbacks rebuilds the callback queue table after a
// schema change. It drops the table and lets the next gateway start
// recreate it; parked deliveries are lost, so drain the queue first.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

func main() {
	databaseURL := flag.String("database-url", os.Getenv("NEXUS_POSTGRES_URL"), "postgres connection string")
	confirm := flag.Bool("yes", false, "actually drop the table")
	flag.Parse()

	if *databaseURL == "" {
		log.Fatal("set -database-url or NEXUS_POSTGRES_URL")
	}

	db, err := sql.Open("postgres", *databaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal("failed to connect:", err)
	}
	fmt.Println("connected to database")

	var parked int
	if err := db.QueryRow("SELECT COUNT(*) FROM callback_queue WHERE status IN ('pending', 'failed')").Scan(&parked); err == nil && parked > 0 {
		fmt.Printf("warning: %d undelivered callbacks will be lost\n", parked)
	}

	if !*confirm {
		fmt.Println("dry run: would drop callback_queue (pass -yes to proceed)")
		return
	}

	fmt.Println("dropping callback_queue...")
	if _, err := db.Exec("DROP TABLE IF EXISTS callback_queue CASCADE"); err != nil {
		log.Fatal("failed to drop table:", err)
	}

	fmt.Println("table dropped")
	fmt.Println("restart the gateway to recreate the table with the current schema")
}
