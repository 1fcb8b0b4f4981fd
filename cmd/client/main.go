// Command client is a thin, non-interactive CLI for exercising the Torua
// storage cluster's UPLOAD_FILE/DOWNLOAD_FILE/GET_STATUS surface by hand,
// over the framed wire protocol.
//
// Usage:
//
//	client -coordinator host:port upload <path>
//	client -coordinator host:port download <file_id> <dest_path>
//	client -coordinator host:port status
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dreamware/torua/internal/chunker"
	"github.com/dreamware/torua/internal/wire"
	"github.com/dustin/go-humanize"
)

func main() {
	coordAddr := flag.String("coordinator", "localhost:5000", "coordinator host:port")
	timeout := flag.Duration("timeout", 30*time.Second, "per-request dial/IO timeout")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
	}

	ctx := context.Background()
	var err error
	switch args[0] {
	case "upload":
		if len(args) != 2 {
			usage()
		}
		err = runUpload(ctx, *coordAddr, *timeout, args[1])
	case "download":
		if len(args) != 3 {
			usage()
		}
		err = runDownload(ctx, *coordAddr, *timeout, args[1], args[2])
	case "status":
		err = runStatus(ctx, *coordAddr, *timeout)
	default:
		usage()
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "client:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: client [-coordinator host:port] upload <path> | download <file_id> <dest> | status")
	os.Exit(2)
}

func request(ctx context.Context, addr string, timeout time.Duration, req wire.Envelope) (wire.Envelope, []byte, error) {
	conn, err := wire.Dial(ctx, addr, timeout)
	if err != nil {
		return wire.Envelope{}, nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := conn.WriteFrame(req, nil); err != nil {
		return wire.Envelope{}, nil, fmt.Errorf("write: %w", err)
	}
	resp, payload, err := conn.ReadFrame()
	if err != nil {
		return wire.Envelope{}, nil, fmt.Errorf("read: %w", err)
	}
	if resp.MsgType == wire.Error {
		return wire.Envelope{}, nil, fmt.Errorf("%v: %v", resp.Data["code"], resp.Data["message"])
	}
	return resp, payload, nil
}

func runUpload(ctx context.Context, coordAddr string, timeout time.Duration, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	uploadReq := wire.NewEnvelope(wire.UploadFile, map[string]any{
		"filename":           filepath.Base(path),
		"size":               int64(len(data)),
		"replication_factor": 0,
	})
	resp, _, err := request(ctx, coordAddr, timeout, uploadReq)
	if err != nil {
		return fmt.Errorf("upload_file: %w", err)
	}

	fileID, _ := resp.Data["file_id"].(string)
	chunkSize := int(resp.Data["chunk_size"].(float64))
	chunks, _ := resp.Data["chunks"].([]any)

	plan := chunker.Split(data, chunkSize)
	for _, ch := range plan {
		assignment, ok := chunks[ch.ID].(map[string]any)
		if !ok {
			return fmt.Errorf("missing placement for chunk %d", ch.ID)
		}
		nodes, _ := assignment["nodes"].([]any)
		for _, n := range nodes {
			target, _ := n.(map[string]any)
			nodeID, _ := target["node_id"].(string)
			addr, _ := target["addr"].(string)
			if err := storeChunkOn(ctx, coordAddr, timeout, fileID, nodeID, addr, ch); err != nil {
				return fmt.Errorf("store chunk %d on %s: %w", ch.ID, nodeID, err)
			}
		}
	}

	fmt.Printf("uploaded %s as %s (%s, %d chunks)\n", path, fileID, humanize.Bytes(uint64(len(data))), len(plan))
	return nil
}

// storeChunkOn issues STORE_CHUNK directly against nodeAddr, then
// REGISTER_CHUNK back to the coordinator -- the client-callback half of
// chunk registration.
func storeChunkOn(ctx context.Context, coordAddr string, timeout time.Duration, fileID, nodeID, nodeAddr string, ch chunker.Chunk) error {
	storeReq := wire.NewEnvelope(wire.StoreChunk, map[string]any{
		"file_id":  fileID,
		"chunk_id": ch.ID,
		"hash":     ch.Hash,
	})
	conn, err := wire.Dial(ctx, nodeAddr, timeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.WriteFrame(storeReq, ch.Payload); err != nil {
		return err
	}
	resp, _, err := conn.ReadFrame()
	if err != nil {
		return err
	}
	if resp.MsgType == wire.Error {
		return fmt.Errorf("%v: %v", resp.Data["code"], resp.Data["message"])
	}

	registerReq := wire.NewEnvelope(wire.RegisterChunk, map[string]any{
		"file_id": fileID, "chunk_id": ch.ID, "node_id": nodeID,
	})
	_, _, err = request(ctx, coordAddr, timeout, registerReq)
	return err
}

func runDownload(ctx context.Context, coordAddr string, timeout time.Duration, fileID, dest string) error {
	downloadReq := wire.NewEnvelope(wire.DownloadFile, map[string]any{"file_id": fileID})
	resp, _, err := request(ctx, coordAddr, timeout, downloadReq)
	if err != nil {
		return fmt.Errorf("download_file: %w", err)
	}

	chunkCount := int(resp.Data["chunk_count"].(float64))
	chunksField, _ := resp.Data["chunks"].(map[string]any)

	out := make([]byte, 0, int64(resp.Data["size"].(float64)))
	for i := 0; i < chunkCount; i++ {
		nodes, _ := chunksField[fmt.Sprintf("%d", i)].([]any)
		if len(nodes) == 0 {
			return fmt.Errorf("chunk %d has no replica", i)
		}
		target, _ := nodes[0].(map[string]any)
		addr, _ := target["addr"].(string)
		payload, err := getChunkFrom(ctx, timeout, addr, fileID, i)
		if err != nil {
			return fmt.Errorf("get chunk %d from %s: %w", i, addr, err)
		}
		out = append(out, payload...)
	}

	if err := os.WriteFile(dest, out, 0o644); err != nil {
		return err
	}
	fmt.Printf("downloaded %s to %s (%s)\n", fileID, dest, humanize.Bytes(uint64(len(out))))
	return nil
}

func getChunkFrom(ctx context.Context, timeout time.Duration, nodeAddr, fileID string, chunkID int) ([]byte, error) {
	conn, err := wire.Dial(ctx, nodeAddr, timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req := wire.NewEnvelope(wire.GetChunk, map[string]any{"file_id": fileID, "chunk_id": chunkID})
	if err := conn.WriteFrame(req, nil); err != nil {
		return nil, err
	}
	resp, payload, err := conn.ReadFrame()
	if err != nil {
		return nil, err
	}
	if resp.MsgType == wire.Error {
		return nil, fmt.Errorf("%v: %v", resp.Data["code"], resp.Data["message"])
	}
	return payload, nil
}

func runStatus(ctx context.Context, coordAddr string, timeout time.Duration) error {
	resp, _, err := request(ctx, coordAddr, timeout, wire.NewEnvelope(wire.GetStatus, nil))
	if err != nil {
		return fmt.Errorf("get_status: %w", err)
	}

	fmt.Printf("nodes:            %v healthy / %v total (%v failed)\n",
		resp.Data["healthy_nodes"], resp.Data["total_nodes"], resp.Data["failed_nodes"])
	fmt.Printf("capacity:         %s used / %s total\n",
		humanize.Bytes(uint64(resp.Data["used_capacity_bytes"].(float64))),
		humanize.Bytes(uint64(resp.Data["total_capacity_bytes"].(float64))))
	fmt.Printf("files:            %v\n", resp.Data["file_count"])
	fmt.Printf("chunks:           %v (%v under-replicated)\n",
		resp.Data["chunk_count"], resp.Data["under_replicated_count"])
	return nil
}
