// Command replay reads an event tape. It either dumps the events or rebuilds
// the session state they describe and checks it against a snapshot.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"tradecore/internal/model"
	"tradecore/internal/recorder"
	"tradecore/internal/state"
)

func main() {
	dir := flag.String("dir", "testdata/tape", "Tape directory")
	prefix := flag.String("prefix", "", "Tape file prefix (default: tape)")
	clientID := flag.Int64("client-id", 0, "Client id of the recorded session")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation")
	skipBad := flag.Bool("skip-undecodable", false, "Skip records that fail to decode")
	dump := flag.Bool("dump", false, "Print every event instead of rebuilding state")
	speed := flag.Float64("speed", 0, "Dump pacing (1=real-time, 0=no pacing)")
	snapshotOut := flag.String("snapshot-out", "", "Write the rebuilt state to this file")
	snapshotIn := flag.String("snapshot-in", "", "Compare the rebuilt state with this snapshot")
	flag.Parse()

	ctx := context.Background()
	if *dump {
		cfg := recorder.PlaybackConfig{
			Dir:             *dir,
			FilePrefix:      *prefix,
			Speed:           *speed,
			DisableChecksum: *noChecksum,
			SkipUndecodable: *skipBad,
		}
		if err := runDump(ctx, cfg); err != nil {
			log.Fatalf("dump failed: %v", err)
		}
		return
	}

	res, err := state.Rebuild(ctx, state.RebuildConfig{
		TapeDir:         *dir,
		FilePrefix:      *prefix,
		ClientID:        *clientID,
		DisableChecksum: *noChecksum,
		SkipUndecodable: *skipBad,
	})
	if err != nil {
		log.Fatalf("rebuild failed: %v", err)
	}
	printState(res)

	snap := res.Snapshot()
	if *snapshotOut != "" {
		if err := state.WriteSnapshot(*snapshotOut, snap); err != nil {
			log.Fatalf("write snapshot failed: %v", err)
		}
		fmt.Printf("snapshot written to %s\n", *snapshotOut)
	}
	if *snapshotIn != "" {
		expected, err := state.ReadSnapshot(*snapshotIn)
		if err != nil {
			log.Fatalf("read snapshot failed: %v", err)
		}
		if err := state.CompareSnapshots(expected, snap); err != nil {
			fmt.Fprintf(os.Stderr, "snapshot mismatch: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("snapshot matches")
	}
}

func runDump(ctx context.Context, cfg recorder.PlaybackConfig) error {
	pb, err := recorder.NewPlayback(cfg)
	if err != nil {
		return err
	}
	var index int
	return pb.Run(ctx, func(h recorder.Header, ev model.Event) error {
		index++
		fmt.Printf("%06d seq=%d kind=%s recv=%d %+v\n", index, h.Seq, h.Kind, h.RecvNano, ev)
		return nil
	})
}

func printState(res state.RebuildResult) {
	fmt.Printf("events=%d changed=%d last_seq=%d last_recv=%s\n", res.Events, res.Changed, res.LastSeq, res.LastRecv.Format("2006-01-02T15:04:05.000Z07:00"))
	for _, t := range res.Registry.Trades() {
		fmt.Printf("trade %s %s %s %s qty=%s filled=%s status=%s log=%d\n",
			t.Key(), t.Contract(), t.Order().Action, t.Order().OrderType,
			t.Order().TotalQuantity, t.Filled(), t.Status(), len(t.Log()))
	}
	positions := res.Registry.Positions()
	for _, p := range positions {
		fmt.Printf("position %s %s qty=%s avg_cost=%s\n", p.Account, p.Contract, p.Quantity, p.AvgCost)
	}
	for _, line := range res.Ledger.Diff(positions) {
		fmt.Printf("ledger mismatch: %s\n", line)
	}
}
