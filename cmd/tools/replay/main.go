package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yanun0323/logs"

	"l4book/internal/book"
	"l4book/internal/sampler"
	"l4book/internal/state"
)

func main() {
	if err := run(); err != nil {
		logs.Errorf("replay: %+v", err)
		os.Exit(1)
	}
}

func run() error {
	dir := flag.String("dir", "testdata/rec", "Recording directory")
	prefix := flag.String("prefix", "", "Segment file prefix (default: l4)")
	dumpIn := flag.String("dump-in", "", "Dump to seed the books with before replaying")
	dumpOut := flag.String("dump-out", "", "Write the final books to this dump")
	expect := flag.String("expect", "", "Compare the final books with this dump")
	levels := flag.Int("levels", 10, "Depth window of the printed summary")
	strict := flag.Bool("strict-sequence", false, "Treat skipped heights as gaps")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := state.Recover(ctx, state.RecoverConfig{
		Dir:        *dir,
		FilePrefix: *prefix,
		DumpPath:   *dumpIn,
		Book:       book.Option{StrictSequence: *strict},
	})
	if err != nil {
		return err
	}

	fmt.Printf("records=%d skipped=%d rejected=%d last_recv_ts=%d\n",
		res.Records, res.Skipped, res.Rejected, res.LastRecvTs)
	for _, b := range res.Books.All() {
		st := b.Stats()
		fmt.Println(sampler.FormatSample(b.Top(*levels)))
		fmt.Printf("  updates=%d snapshots=%d diffs=%d not_ready=%d duplicates=%d gaps=%d dropped=%d apply_avg=%s apply_max=%s\n",
			st.Updates, st.Snapshots, st.Diffs, st.NotReady, st.Duplicates, st.Gaps, st.Dropped, st.ApplyAvg, st.ApplyMax)
	}

	dump := state.DumpBooks(res.Books.All()...)
	if res.LastRecvTs > 0 {
		dump.Timestamp = res.LastRecvTs
	}

	if *dumpOut != "" {
		if err := state.WriteDump(*dumpOut, dump); err != nil {
			return err
		}
		fmt.Printf("dump written: %s\n", *dumpOut)
	}

	if *expect != "" {
		want, err := state.ReadDump(*expect)
		if err != nil {
			return err
		}
		if err := state.CompareDumps(want, dump); err != nil {
			return err
		}
		fmt.Println("dump matches")
	}
	return nil
}
