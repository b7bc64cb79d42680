package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"maze-relay-go/internal/ingest"
	"maze-relay-go/internal/types"
)

// maze-decode runs captured ZMQ payloads (CBOR or JSON files) through the
// ingest decoder and summarizes what the relay would forward.
func main() {
	path := flag.String("path", "", "Path to a payload file or a directory of .cbor/.json files")
	limit := flag.Int("limit", 5, "Max number of messages per kind to print")
	flag.Parse()

	if *path == "" {
		log.Fatal("missing -path")
	}

	files, err := listFiles(*path)
	if err != nil {
		log.Fatalf("list files: %v", err)
	}

	counts := map[types.Kind]int{}
	failed := 0
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			log.Printf("read %s: %v", file, err)
			continue
		}

		msg, err := ingest.DecodeMessage(data)
		if err != nil {
			failed++
			log.Printf("decode %s: %v", file, err)
			continue
		}
		kind, _ := types.Classify(msg)
		counts[kind]++
		if counts[kind] <= *limit {
			fmt.Printf("%s: %s\n", file, types.Describe(msg))
		}
	}

	fmt.Printf("summary: maze=%d entities=%d hello=%d unknown=%d failed=%d\n",
		counts[types.KindMaze], counts[types.KindEntities], counts[types.KindHello], counts[types.KindUnknown], failed)
}

func listFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".cbor", ".json":
			files = append(files, filepath.Join(path, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
