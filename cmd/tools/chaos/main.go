// Command chaos copies an event tape through the chaos engine, producing a
// tape with dropped, duplicated and reordered broker events.
package main

import (
	"context"
	"flag"
	"log"

	"tradecore/internal/chaos"
	"tradecore/internal/codec"
	"tradecore/internal/model"
	"tradecore/internal/recorder"
)

func main() {
	inputDir := flag.String("input-dir", "testdata/tape", "Input tape directory")
	inputPrefix := flag.String("input-prefix", "", "Input tape file prefix (default: tape)")
	outputDir := flag.String("output-dir", "testdata/tape_chaos", "Output tape directory")
	outputPrefix := flag.String("output-prefix", "chaos", "Output tape file prefix")
	seed := flag.Int64("seed", 0, "RNG seed (0=now)")
	dropRate := flag.Float64("drop-rate", 0, "Drop probability [0-1]")
	dupRate := flag.Float64("dup-rate", 0, "Duplicate probability [0-1]")
	reorderWindow := flag.Int("reorder-window", 1, "Reorder window (>=1)")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation")
	flag.Parse()

	pb, err := recorder.NewPlayback(recorder.PlaybackConfig{
		Dir:             *inputDir,
		FilePrefix:      *inputPrefix,
		DisableChecksum: *noChecksum,
	})
	if err != nil {
		log.Fatalf("playback init failed: %v", err)
	}

	engine, err := chaos.NewEngine(chaos.Config{
		Seed:          *seed,
		DropRate:      *dropRate,
		DuplicateRate: *dupRate,
		ReorderWindow: *reorderWindow,
	})
	if err != nil {
		log.Fatalf("chaos config invalid: %v", err)
	}

	outCfg := recorder.DefaultConfig(*outputDir)
	outCfg.FilePrefix = *outputPrefix
	writer, err := recorder.NewWriter(outCfg)
	if err != nil {
		log.Fatalf("writer init failed: %v", err)
	}
	ctx := context.Background()
	if err := writer.Start(ctx); err != nil {
		log.Fatalf("writer start failed: %v", err)
	}

	out := &output{ctx: ctx, writer: writer}
	var in int
	err = pb.Run(ctx, func(h recorder.Header, ev model.Event) error {
		in++
		out.recv = h.RecvNano
		return out.write(engine.Process(ev))
	})
	if err == nil {
		err = out.write(engine.Flush())
	}
	if err != nil {
		log.Fatalf("chaos copy failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		log.Fatalf("writer close failed: %v", err)
	}
	log.Printf("chaos: read %d events, wrote %d", in, writer.Written())
}

// output re-sequences events; each keeps the receive time of the input
// record that released it.
type output struct {
	ctx    context.Context
	writer *recorder.Writer
	seq    uint64
	recv   int64
}

func (o *output) write(evs []model.Event) error {
	for _, ev := range evs {
		payload, err := codec.EncodeEvent(ev)
		if err != nil {
			return err
		}
		o.seq++
		h := recorder.Header{Kind: ev.EventKind(), Seq: o.seq, RecvNano: o.recv}
		if err := o.writer.Append(o.ctx, h, payload); err != nil {
			return err
		}
	}
	return nil
}
