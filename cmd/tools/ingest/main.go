// Command ingest uploads local documents to a running voicerag server.
//
// Usage:
//
//	go run ./cmd/tools/ingest -addr http://localhost:8000 data/listings.csv notes.md
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

func main() {
	addr := flag.String("addr", "http://localhost:8000", "base URL of the voicerag server")
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "usage: ingest [-addr URL] file [file ...]")
		os.Exit(2)
	}

	body, contentType, err := buildUpload(files)
	if err != nil {
		log.Fatalf("build upload: %v", err)
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	url := strings.TrimRight(*addr, "/") + "/api/v1/documents"

	resp, err := client.Post(url, contentType, body)
	if err != nil {
		log.Fatalf("upload failed: %v", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("read response: %v", err)
	}

	if resp.StatusCode >= 300 {
		log.Fatalf("server returned %s: %s", resp.Status, payload)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, payload, "", "  "); err != nil {
		fmt.Println(string(payload))
		return
	}
	fmt.Println(pretty.String())
}

func buildUpload(paths []string) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("read %s: %w", path, err)
		}

		part, err := writer.CreateFormFile("files", filepath.Base(path))
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(data); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return &buf, writer.FormDataContentType(), nil
}
