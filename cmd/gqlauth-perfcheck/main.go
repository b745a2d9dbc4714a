// Command gqlauth-perfcheck compares two `go test -bench` outputs and fails
// when a tracked benchmark regressed past the threshold.
//
//	go test -run '^$' -bench . -count 5 ./... > new.txt
//	gqlauth-perfcheck -baseline old.txt -candidate new.txt
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

const defaultThreshold = 0.30

// defaultTracked covers the per-request hot path and the counters behind it.
var defaultTracked = tracked{
	"BenchmarkResolveFieldRS256":       {"ns/op", "allocs/op"},
	"BenchmarkResolveFieldES256":       {"ns/op", "allocs/op"},
	"BenchmarkResolveFieldDenied":      {"ns/op", "allocs/op"},
	"BenchmarkResolveFieldParallel":    {"ns/op"},
	"BenchmarkMetricsIncMixedParallel": {"ns/op"},
}

// tracked maps a benchmark name to the units compared for it.
type tracked map[string][]string

type sampleSet map[string]map[string][]float64

// comparison is one benchmark/unit pair across the two runs.
type comparison struct {
	benchmark string
	unit      string
	baseline  float64
	candidate float64
	delta     float64
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("gqlauth-perfcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		baselinePath  = fs.String("baseline", "", "path to baseline benchmark output")
		candidatePath = fs.String("candidate", "", "path to candidate benchmark output")
		threshold     = fs.Float64("threshold", defaultThreshold, "maximum allowed regression ratio (0.30 = +30%)")
		track         = fs.String("track", "", "benchmarks to compare as Name=unit,unit;Name=unit (default: hot path set)")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *baselinePath == "" || *candidatePath == "" {
		fmt.Fprintln(stderr, "-baseline and -candidate are required")
		return 2
	}
	if *threshold < 0 {
		fmt.Fprintln(stderr, "-threshold must be >= 0")
		return 2
	}

	want := defaultTracked
	if *track != "" {
		var err error
		if want, err = parseTracked(*track); err != nil {
			fmt.Fprintf(stderr, "-track: %v\n", err)
			return 2
		}
	}

	baseline, err := parseBenchmarkFile(*baselinePath, want)
	if err != nil {
		fmt.Fprintf(stderr, "parse baseline: %v\n", err)
		return 1
	}
	candidate, err := parseBenchmarkFile(*candidatePath, want)
	if err != nil {
		fmt.Fprintf(stderr, "parse candidate: %v\n", err)
		return 1
	}

	results, failures := compare(baseline, candidate, want, *threshold)
	fmt.Fprintln(stdout, "perf regression check:")
	fmt.Fprintln(stdout, "benchmark unit baseline candidate delta")
	for _, c := range results {
		fmt.Fprintf(stdout, "%s %s %.3f %.3f %+0.2f%%\n", c.benchmark, c.unit, c.baseline, c.candidate, c.delta*100)
	}

	if len(failures) > 0 {
		fmt.Fprintln(stderr, "performance regression threshold exceeded:")
		for _, failure := range failures {
			fmt.Fprintf(stderr, "  - %s\n", failure)
		}
		return 1
	}
	return 0
}

// compare returns the medians of every tracked pair, sorted by name, and a
// failure line for each regression or missing sample.
func compare(baseline, candidate sampleSet, want tracked, threshold float64) ([]comparison, []string) {
	names := make([]string, 0, len(want))
	for name := range want {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		results  []comparison
		failures []string
	)
	for _, name := range names {
		for _, unit := range want[name] {
			baseSamples := baseline[name][unit]
			candidateSamples := candidate[name][unit]
			if len(baseSamples) == 0 || len(candidateSamples) == 0 {
				failures = append(failures, fmt.Sprintf("missing samples for %s %s", name, unit))
				continue
			}

			baseMedian := median(baseSamples)
			candidateMedian := median(candidateSamples)
			if baseMedian <= 0 {
				failures = append(failures, fmt.Sprintf("invalid baseline median for %s %s", name, unit))
				continue
			}

			c := comparison{
				benchmark: name,
				unit:      unit,
				baseline:  baseMedian,
				candidate: candidateMedian,
				delta:     (candidateMedian - baseMedian) / baseMedian,
			}
			results = append(results, c)
			if c.delta > threshold {
				failures = append(failures, fmt.Sprintf("%s %s regressed by %+0.2f%% (limit %+0.2f%%)", name, unit, c.delta*100, threshold*100))
			}
		}
	}
	return results, failures
}

func parseTracked(list string) (tracked, error) {
	out := tracked{}
	for _, part := range strings.Split(list, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, units, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(units) == "" {
			return nil, fmt.Errorf("bad entry %q, want Name=unit,unit", part)
		}
		for _, u := range strings.Split(units, ",") {
			if u = strings.TrimSpace(u); u != "" {
				out[strings.TrimSpace(name)] = append(out[strings.TrimSpace(name)], u)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no benchmarks named")
	}
	return out, nil
}

func parseBenchmarkFile(path string, want tracked) (sampleSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return parseBenchmarks(file, want)
}

func parseBenchmarks(r io.Reader, want tracked) (sampleSet, error) {
	samples := sampleSet{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "Benchmark") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}

		name := normalizeBenchmarkName(fields[0])
		if _, ok := want[name]; !ok {
			continue
		}

		if _, ok := samples[name]; !ok {
			samples[name] = map[string][]float64{}
		}

		for i := 2; i+1 < len(fields); i += 2 {
			value, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			unit := fields[i+1]
			samples[name][unit] = append(samples[name][unit], value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return samples, nil
}

// normalizeBenchmarkName strips the -GOMAXPROCS suffix.
func normalizeBenchmarkName(raw string) string {
	if idx := strings.LastIndexByte(raw, '-'); idx > 0 {
		if _, err := strconv.Atoi(raw[idx+1:]); err == nil {
			return raw[:idx]
		}
	}
	return raw
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	copied := make([]float64, len(values))
	copy(copied, values)
	sort.Float64s(copied)

	mid := len(copied) / 2
	if len(copied)%2 == 1 {
		return copied[mid]
	}
	return (copied[mid-1] + copied[mid]) / 2
}
