package main

import (
	"fmt"
	"os"

	"github.com/dargueta/fes/coder"
	"github.com/dargueta/fes/container"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(
			os.Stderr,
			"Show the stream layout of a fes archive.\nUsage: %s archive-file\n",
			os.Args[0])
		os.Exit(1)
	}

	archivePath := os.Args[1]

	archive, err := os.ReadFile(archivePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read file: `%v`: %s\n", archivePath, err)
		os.Exit(1)
	}

	records, err := container.Parse(archive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Not a fes archive: %s\n", err)
		os.Exit(5)
	}

	fmt.Printf("%-4s %-14s %-6s %-5s %10s\n", "id", "stream", "coder", "order", "bytes")
	for _, rec := range records {
		order := "le"
		if rec.Flags.BigEndian() {
			order = "be"
		}
		fmt.Printf("%-4d %-14s %-6s %-5s %10d\n",
			rec.ID, rec.ID, rec.Flags.Coder(), order, len(rec.Data))
	}

	head := records[0]
	backend, err := coder.New(head.Flags.Coder())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot decode the header stream: %s\n", err)
		os.Exit(5)
	}
	payload, err := backend.Decompress(head.Data, 4*len(head.Data)+64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot decode the header stream: %s\n", err)
		os.Exit(5)
	}
	var index container.Index
	if err := index.UnmarshalBinary(payload); err != nil {
		fmt.Fprintf(os.Stderr, "Cannot decode the header stream: %s\n", err)
		os.Exit(5)
	}

	fmt.Printf("\noriginal size: %d bytes\n", index.OrigLen)
	fmt.Printf("image base:    %#x\n", index.ImageBase)
	fmt.Printf("load segments: %d\n", len(index.Segments))
	fmt.Printf("category runs: %d\n", len(index.Runs))
	fmt.Printf("branch sites:  %d\n", index.BranchCount)
	fmt.Printf("struct tables: %d\n", len(index.Tables))
	fmt.Printf("jump tables:   %d\n", len(index.JumpTables))
}
