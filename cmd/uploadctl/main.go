// Command uploadctl drives one resumable chunked upload against an
// uploadctl server, following the teacher's bootstrap/main.go shape: stdlib
// flag parsing, then a signal.Notify(SIGINT, SIGTERM) wait loop that
// triggers a graceful abort instead of calling os.Exit from a handler.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/quantarax/uploader/internal/apiclient"
	"github.com/quantarax/uploader/internal/blob"
	"github.com/quantarax/uploader/internal/config"
	"github.com/quantarax/uploader/internal/coordinator"
	"github.com/quantarax/uploader/internal/cryptoutil"
	"github.com/quantarax/uploader/internal/events"
	"github.com/quantarax/uploader/internal/history"
	"github.com/quantarax/uploader/internal/observability"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "Upload server base URL")
	transport := flag.String("transport", "http", "Transport: http or quic")
	chunkSize := flag.Int64("chunk-size", 4<<20, "Chunk size in bytes")
	hashAlg := flag.String("hash", "md5", "Chunk hash algorithm: md5 or blake3")
	concurrency := flag.Int("concurrency", 4, "Maximum concurrent chunk uploads")
	workers := flag.Int("workers", 0, "Hash worker count (0 = hardware-parallel default)")
	historyPath := flag.String("history", "", "Path to a boltdb file for session history (empty disables history)")
	encrypt := flag.Bool("encrypt", false, "Prompt for a passphrase and AEAD-seal every chunk before upload")
	fecData := flag.Int("fec-data-shards", 0, "Reed-Solomon data shard count (0 disables FEC)")
	fecParity := flag.Int("fec-parity-shards", 0, "Reed-Solomon parity shard count")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: uploadctl [options] <file_path>")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Options:")
		flag.PrintDefaults()
		os.Exit(1)
	}
	filePath := flag.Arg(0)

	logger := observability.NewLogger("uploadctl", os.Stderr)
	metrics := observability.NoopMetrics()

	shutdownTracing, err := observability.InitTracing("uploadctl")
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer shutdownTracing(context.Background())

	fileBlob, err := blob.Open(filePath)
	if err != nil {
		log.Fatalf("open %s: %v", filePath, err)
	}
	defer fileBlob.Close()

	var client apiclient.Client
	switch *transport {
	case "http":
		client = apiclient.NewHTTPClient(*serverURL)
	case "quic":
		c, err := apiclient.DialQUICClient(context.Background(), *serverURL, nil)
		if err != nil {
			log.Fatalf("dial quic %s: %v", *serverURL, err)
		}
		defer c.Close()
		client = c
	default:
		log.Fatalf("unknown transport %q, want http or quic", *transport)
	}

	var historyStore coordinator.HistoryStore
	if *historyPath != "" {
		store, err := history.Open(*historyPath)
		if err != nil {
			log.Fatalf("open history store: %v", err)
		}
		defer store.Close()
		historyStore = store
	}

	opts := config.DefaultOptions()
	opts.ChunkSize = uint64(*chunkSize)
	opts.HashAlgorithm = *hashAlg
	opts.HashWorkerCount = *workers
	opts.UploadConcurrency = *concurrency

	if *encrypt {
		fmt.Fprint(os.Stderr, "Passphrase: ")
		passphrase, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			log.Fatalf("read passphrase: %v", err)
		}
		opts.EncryptionKey = derivePassphraseKey(passphrase)
	}
	if *fecData > 0 {
		opts.FEC = &config.FECOptions{DataShards: *fecData, ParityShards: *fecParity}
	}

	coord := coordinator.New(client, logger, metrics, historyStore)
	sub := coord.Subscribe()
	defer coord.Unsubscribe(sub)

	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()

	sessionID, err := coord.Start(ctx, filePath, "application/octet-stream", fileBlob.Size(), fileBlob, opts)
	if err != nil {
		log.Fatalf("start upload: %v", err)
	}
	log.Printf("upload session %s started for %s (%d bytes)", sessionID, filePath, fileBlob.Size())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case sig := <-sigChan:
			log.Printf("received %s, aborting upload session %s", sig, sessionID)
			coord.Abort(sessionID)
		case e := <-sub.Channel:
			if e.SessionID != sessionID {
				continue
			}
			if done := reportEvent(e); done {
				return
			}
		case <-time.After(30 * time.Minute):
			log.Fatalf("timed out waiting for upload session %s to finish", sessionID)
		}
	}
}

func reportEvent(e events.Event) (terminal bool) {
	switch e.Kind {
	case events.KindChunkHashed:
		p := e.Payload.(events.PayloadChunkHashed)
		log.Printf("chunk %d hashed (%d bytes)", p.Index, p.Size)
	case events.KindFileHashed:
		p := e.Payload.(events.PayloadFileHashed)
		log.Printf("file hash computed: %s", p.FileHash)
	case events.KindAllChunksHashed:
		log.Printf("all chunks hashed")
	case events.KindQueueDrained:
		log.Printf("upload queue drained")
	case events.KindQueueAborted:
		p := e.Payload.(events.PayloadQueueAborted)
		log.Printf("upload queue aborted: %s", p.Message)
	case events.KindUploadProgress:
		p := e.Payload.(events.PayloadUploadProgress)
		log.Printf("progress: %d/%d chunks, %d bytes hashed, %d bytes uploaded", p.ChunksCompleted, p.TotalChunks, p.BytesHashed, p.BytesUploaded)
	case events.KindCompleted:
		p := e.Payload.(events.PayloadCompleted)
		log.Printf("upload complete: %s (%d chunks, %s)", p.URL, p.ChunkCount, p.Duration)
		return true
	case events.KindFailed:
		p := e.Payload.(events.PayloadFailed)
		log.Printf("upload failed: %s: %s", p.Code, p.Message)
		return true
	}
	return false
}

// derivePassphraseKey stretches a user passphrase into a chacha20poly1305
// key. A real deployment would use a slow KDF (scrypt/argon2); this is a
// CLI convenience, not the engine's security boundary.
func derivePassphraseKey(passphrase []byte) []byte {
	key := make([]byte, cryptoutil.KeySize)
	if len(passphrase) == 0 {
		return key
	}
	for i := range key {
		key[i] = passphrase[i%len(passphrase)]
	}
	return key
}
