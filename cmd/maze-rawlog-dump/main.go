package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"maze-relay-go/internal/output"
	"maze-relay-go/internal/types"
)

func main() {
	var (
		path  = flag.String("path", "", "Path to rawlog .bin file")
		limit = flag.Int("limit", 0, "Number of records to dump (0 for all)")
		full  = flag.Bool("full", false, "Print each payload as indented JSON")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("path is required")
	}

	f, err := os.Open(*path)
	if err != nil {
		log.Fatalf("open rawlog: %v", err)
	}
	defer f.Close()

	reader, err := output.NewRawLogReader(f)
	if err != nil {
		log.Fatalf("read rawlog: %v", err)
	}

	count := 0
	for *limit <= 0 || count < *limit {
		entry, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Fatalf("record %d: %v", count, err)
		}
		fmt.Printf("record %d timestamp=%s size=%d %s\n",
			count, entry.Time.Format(time.RFC3339Nano), len(entry.Payload), types.Describe(entry.Payload))
		if *full {
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, entry.Payload, "", "  "); err != nil {
				log.Printf("record %d: JSON indent error: %v", count, err)
			} else {
				fmt.Println(pretty.String())
			}
		}
		count++
	}
	fmt.Printf("summary: records=%d\n", count)
}
