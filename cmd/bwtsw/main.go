// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// bwtsw performs BWT/FM-index-driven local sequence alignment against a
// pre-built index, reporting alignments equivalent to an exhaustive
// Smith-Waterman search, in BLAST's pairwise or tabular (-m 8/9) output
// conventions. It can run as a one-shot query or, via -L/-X, as a
// persistent local server that amortizes index loading across many
// queries (spec.md §5-§6).
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio"
	"github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/seq/linear"

	"github.com/kortschak/bwtsw/internal/dust"
	"github.com/kortschak/bwtsw/internal/encode"
	"github.com/kortschak/bwtsw/internal/fmindex"
	"github.com/kortschak/bwtsw/internal/output"
	"github.com/kortschak/bwtsw/internal/params"
	"github.com/kortschak/bwtsw/internal/rank"
	"github.com/kortschak/bwtsw/internal/server"
	"github.com/kortschak/bwtsw/internal/stats"
)

func main() {
	db := flag.String("db", "", "specify database path prefix (required, e.g. /data/genome)")
	queryPath := flag.String("query", "", "specify query FASTA file (required unless -L/-X)")
	outPath := flag.String("out", "", "specify output file (default stdout)")
	alignPath := flag.String("align", "", "specify a secondary pairwise-alignment output file")
	format := flag.Int("m", 0, "specify output format: 0 pairwise, 8 tabular, 9 tabular with comment header")
	strand := flag.Int("strand", int(params.StrandBoth), "specify search strand: 1 forward, 2 reverse complement, 3 both")
	hardMask := flag.Bool("hardmask", false, "specify hard masking of low-complexity/lower-case regions (default soft)")
	doDust := flag.Bool("dust", true, "specify DUST low-complexity masking of the query")
	match := flag.Int("match", 1, "specify match reward")
	mismatch := flag.Int("mismatch", 3, "specify mismatch penalty magnitude")
	gapOpen := flag.Int("gapopen", 5, "specify gap open cost")
	gapExtend := flag.Int("gapextend", 2, "specify gap extend cost")
	evalue := flag.Float64("evalue", 10, "specify maximum reported E-value")
	parmPath := flag.String("parm", "", "specify a .parm query parameter override file")
	maxQueryLen := flag.Int("maxquerylen", 20000, "specify the maximum query length the engine is sized for")
	hitMem := flag.Int("workmem", 1<<16, "specify the BWT-DP working hit buffer size, in hits")
	alignMem := flag.Int("alignmem", 1<<18, "specify the decoded match-point buffer size")
	spillDir := flag.String("spilldb", "", "specify a directory for on-disk match-point overflow (default: disabled, exhaustion is fatal)")
	verbose := flag.Bool("verbose", false, "specify verbose progress logging")
	showStats := flag.Bool("stats", false, "specify per-query DP statistics logging")
	histogram := flag.Bool("histogram", false, "specify printing an E-value histogram after the last query")
	timingPath := flag.String("time", "", "specify an append-only per-query timing log")

	sockPath := flag.String("sock", "", "specify the persistent-server UNIX socket path (default $TMPDIR/bwtsw-<db>.sock)")
	load := flag.Bool("L", false, "load a persistent server for -db and exit")
	unload := flag.Bool("X", false, "request shutdown of the persistent server for -db and exit")
	confirm := flag.Bool("c", false, "specify interactive confirmation before -L/-X")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), `Usage of %[1]s:
  $ %[1]s -db <dbprefix> -query <query.fasta> [options] >out
  $ %[1]s -db <dbprefix> -L     # load a persistent server
  $ %[1]s -db <dbprefix> -X     # shut down the persistent server

Options:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *db == "" {
		flag.Usage()
		os.Exit(2)
	}
	sock := *sockPath
	if sock == "" {
		sock = filepath.Join(os.TempDir(), "bwtsw-"+filepath.Base(*db)+".sock")
	}

	if *load || *unload {
		if *confirm && !confirmAction(*load) {
			log.Println("aborted")
			return
		}
		if *load {
			runServer(*db, sock, *verbose)
			return
		}
		requestShutdown(sock)
		return
	}

	if *queryPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	p := params.Parameters{
		DatabaseName: filepath.Base(*db),
		Files:        params.DefaultFileNames(),
		Strand:       params.Strand(*strand),
		Dust:         params.DefaultDust(),
		OutputFormat: params.OutputFormat(*format),
		Score: params.ScoreBlock{
			Match:     *match,
			Mismatch:  -*mismatch,
			GapOpen:   *gapOpen,
			GapExtend: *gapExtend,
		},
		Expectation: *evalue,
	}
	p.Dust.Enabled = *doDust
	p.MaskLowerCase = !*hardMask

	if *parmPath != "" {
		if err := params.LoadParmFile(&p, *parmPath); err != nil {
			log.Fatal(err)
		}
	}
	if err := p.Validate(); err != nil {
		log.Fatal(err)
	}

	idx, err := openIndex(*db)
	if err != nil {
		log.Fatal(err)
	}
	defer idx.Close()

	var out io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		out = f
	}
	var align io.Writer
	if *alignPath != "" {
		f, err := os.Create(*alignPath)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		align = f
	}

	query, err := os.Open(*queryPath)
	if err != nil {
		log.Fatal(err)
	}
	defer query.Close()

	var timing io.Writer
	if *timingPath != "" {
		f, err := os.OpenFile(*timingPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		timing = f
	}

	w := output.NewWriter(out, align, p.OutputFormat)
	defer w.Flush()

	block := stats.New(p.Score.Match, p.Score.Mismatch, p.Score.GapOpen, p.Score.GapExtend, int64(idx.TextLength), len(idx.Subjects), *maxQueryLen)
	pl := newPipeline(idx, *maxQueryLen, *maxQueryLen, *hitMem, *alignMem)
	pl.spillDir = *spillDir

	var allHits []rank.Hit
	sc := seqio.NewScanner(fasta.NewReader(query, linear.NewSeq("", nil, alphabet.DNAredundant)))
	for sc.Next() {
		s := sc.Seq().(*linear.Seq)
		start := time.Now()

		raw := lettersToBytes(s.Seq)
		if p.Dust.Enabled {
			dust.Mask(raw, p.Dust.Level, p.Dust.Window)
		}
		codes, encErr := encode.Bases(alphabet.BytesToLetters(raw))
		masked := encode.SoftMasked(alphabet.BytesToLetters(raw))
		if encErr != nil {
			log.Printf("query %s: %v, skipping", s.ID, encErr)
			continue
		}
		if *hardMask {
			encode.HardMask(codes, masked)
		}

		w.WriteHeader(s.ID, p.DatabaseName)
		hits, err := pl.align(s.ID, codes, p, block, *verbose)
		if err != nil {
			log.Printf("query %s: %v", s.ID, err)
			continue
		}
		if err := w.WriteHits(s.ID, codes, hits, idx); err != nil {
			log.Fatal(err)
		}
		allHits = append(allHits, hits...)

		if *showStats {
			log.Printf("%s: %d hits, %s", s.ID, len(hits), time.Since(start))
		}
		if timing != nil {
			if err := output.AppendTiming(timing, s.ID, time.Since(start)); err != nil {
				log.Printf("writing timing log: %v", err)
			}
		}
	}
	if err := sc.Error(); err != nil {
		log.Fatal(err)
	}

	w.WriteTrailer(p.DatabaseName, len(idx.Subjects), idx.TextLength)
	if *histogram {
		hist, err := rank.Histogram(allHits)
		if err != nil {
			log.Printf("building histogram: %v", err)
		} else {
			w.Flush()
			rank.PrintHistogram(out, hist, block)
		}
	}
}

// openIndex opens the six-artifact index at the directory/prefix split
// of db, e.g. "/data/genome" opens "/data/genome.bwt" etc.
func openIndex(db string) (*fmindex.Index, error) {
	dir, name := filepath.Split(db)
	if dir == "" {
		dir = "." + string(filepath.Separator)
	}
	return fmindex.Open(name, dir, params.DefaultFileNames())
}

func lettersToBytes(seq []alphabet.Letter) []byte {
	out := make([]byte, len(seq))
	for i, l := range seq {
		out[i] = byte(l)
	}
	return out
}

// confirmAction prompts on stdin before a load or unload request, the
// -c interactive-confirmation behaviour of BWTSW.c's Confirmation flag.
func confirmAction(loading bool) bool {
	verb := "load"
	if !loading {
		verb = "unload"
	}
	fmt.Fprintf(os.Stderr, "%s persistent server? [y/N] ", verb)
	sc := bufio.NewScanner(os.Stdin)
	if !sc.Scan() {
		return false
	}
	ans := strings.ToLower(strings.TrimSpace(sc.Text()))
	return ans == "y" || ans == "yes"
}

// runServer loads the index once and serves queries sequentially over
// sock until a shutdown request arrives (spec.md §5-§6).
func runServer(db, sock string, verbose bool) {
	idx, err := openIndex(db)
	if err != nil {
		log.Fatal(err)
	}
	defer idx.Close()

	logger := log.New(os.Stderr, "bwtsw: ", log.LstdFlags)
	block := stats.New(1, -3, 5, 2, int64(idx.TextLength), len(idx.Subjects), 20000)
	pl := newPipeline(idx, 20000, 20000, 1<<16, 1<<18)
	pl.spillDir = os.TempDir()

	s := server.New(sock, logger, func(w io.Writer, q server.QueryInput) error {
		return handleQuery(pl, idx, block, w, q, verbose)
	})
	if err := s.Load(); err != nil {
		log.Fatal(err)
	}
	log.Printf("serving %s on %s", db, sock)
	if err := s.Serve(); err != nil {
		log.Fatal(err)
	}
}

// handleQuery runs one server-mode query record by record, writing
// formatted hits to w; it mirrors the direct-mode loop in main but
// sources its Parameters from the decoded QueryInput (spec.md §6).
func handleQuery(pl *pipeline, idx *fmindex.Index, block stats.Block, w io.Writer, q server.QueryInput, verbose bool) error {
	query, err := os.Open(q.QueryPath)
	if err != nil {
		return fmt.Errorf("opening query %s: %w", q.QueryPath, err)
	}
	defer query.Close()

	var dst io.Writer = w
	if q.OutputPath != "" {
		f, err := os.Create(q.OutputPath)
		if err != nil {
			return err
		}
		defer f.Close()
		dst = f
	}
	var align io.Writer
	if q.AlignPath != "" {
		f, err := os.Create(q.AlignPath)
		if err != nil {
			return err
		}
		defer f.Close()
		align = f
	}

	ow := output.NewWriter(dst, align, q.Format)
	defer ow.Flush()

	p := params.Parameters{
		DatabaseName: q.Database,
		Strand:       q.Strand,
		Score:        q.Scores,
		Expectation:  q.EValue,
		OutputFormat: q.Format,
		MaskLowerCase: !q.HardMask,
		Dust:         params.Dust{Enabled: q.Dust, Level: 20, Window: 64},
	}

	sc := seqio.NewScanner(fasta.NewReader(query, linear.NewSeq("", nil, alphabet.DNAredundant)))
	for sc.Next() {
		s := sc.Seq().(*linear.Seq)
		raw := lettersToBytes(s.Seq)
		if p.Dust.Enabled {
			dust.Mask(raw, p.Dust.Level, p.Dust.Window)
		}
		codes, err := encode.Bases(alphabet.BytesToLetters(raw))
		if err != nil {
			fmt.Fprintf(w, "query %s: %v, skipping\n", s.ID, err)
			continue
		}
		if q.HardMask {
			encode.HardMask(codes, encode.SoftMasked(alphabet.BytesToLetters(raw)))
		}
		hits, err := pl.align(s.ID, codes, p, block, verbose)
		if err != nil {
			fmt.Fprintf(w, "query %s: %v\n", s.ID, err)
			continue
		}
		if err := ow.WriteHits(s.ID, codes, hits, idx); err != nil {
			return err
		}
	}
	return sc.Error()
}

// requestShutdown dials the persistent server and sends the empty
// QueryInput that signals shutdown (spec.md §6's -X flag).
func requestShutdown(sock string) {
	conn, err := net.Dial("unix", sock)
	if err != nil {
		log.Fatalf("no persistent server listening on %s: %v", sock, err)
	}
	defer conn.Close()
	if err := json.NewEncoder(conn).Encode(server.QueryInput{}); err != nil {
		log.Fatal(err)
	}
	log.Println("shutdown requested")
}
