package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/model"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/geo"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/kafka"
)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Workload    Workload
	Seed        int
}

type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	cacheHits     atomic.Int64
	totalHits     atomic.Int64
	latencies     []time.Duration
	latenciesMu   sync.Mutex
	statusCodes   map[int]*atomic.Int64
	statusCodesMu sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]*atomic.Int64),
	}
}

func (s *Stats) RecordRequest(duration time.Duration, statusCode int, err error) {
	s.totalRequests.Add(1)

	if err != nil {
		s.errorCount.Add(1)
		return
	}

	if statusCode >= 200 && statusCode < 300 {
		s.successCount.Add(1)
	} else {
		s.errorCount.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()

	s.statusCodesMu.Lock()
	if _, ok := s.statusCodes[statusCode]; !ok {
		s.statusCodes[statusCode] = &atomic.Int64{}
	}
	s.statusCodes[statusCode].Add(1)
	s.statusCodesMu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the geo query service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	lat := flag.Float64("lat", 51.0447, "workload center latitude")
	lng := flag.Float64("lng", -114.0719, "workload center longitude")
	spread := flag.Float64("spread", 25, "half-width of the workload area in km")
	maxRadius := flag.Float64("max-radius", 10, "largest query radius in km")
	filterRate := flag.Float64("filter-rate", 0.5, "fraction of queries carrying an attribute filter")
	seed := flag.Int("seed", 0, "POST this many random records before the run")
	feedBrokers := flag.String("feed-brokers", "", "comma-separated Kafka brokers; with -feed-topic, publish the seed records to the change feed instead of POSTing them")
	feedTopic := flag.String("feed-topic", "", "record updates topic")
	flag.Parse()

	cfg := Config{
		BaseURL:     *baseURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		Seed:        *seed,
		Workload: Workload{
			Center:      geo.Point{Lat: *lat, Lng: *lng},
			SpreadKm:    *spread,
			MaxRadiusKm: *maxRadius,
			FilterRate:  *filterRate,
		},
	}

	fmt.Println("=== Geo Query Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Center:      %.4f, %.4f (±%.0f km)\n", *lat, *lng, *spread)
	fmt.Println()

	if cfg.Seed > 0 {
		var err error
		if *feedBrokers != "" && *feedTopic != "" {
			err = seedFeed(cfg, strings.Split(*feedBrokers, ","), *feedTopic)
		} else {
			err = seedHTTP(cfg)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "seeding failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Seeded %d records\n\n", cfg.Seed)
	}

	stats := runLoadTest(cfg)
	printReport(stats, cfg.Duration)
}

func seedItems(cfg Config) []*model.Item {
	rng := rand.New(rand.NewPCG(1, 2))
	items := make([]*model.Item, cfg.Seed)
	for i := range items {
		items[i] = cfg.Workload.RandomItem(rng, fmt.Sprintf("load-%d", i))
	}
	return items
}

func seedHTTP(cfg Config) error {
	body, err := json.Marshal(seedItems(cfg))
	if err != nil {
		return err
	}
	resp, err := http.Post(cfg.BaseURL+"/api/v1/records", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("seed request returned %d: %s", resp.StatusCode, msg)
	}
	return nil
}

func seedFeed(cfg Config, brokers []string, topic string) error {
	pub := ingest.NewPublisher(kafka.NewProducer(config.KafkaConfig{Brokers: brokers}, topic))
	defer pub.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	items := seedItems(cfg)
	for start := 0; start < len(items); start += 500 {
		end := min(start+500, len(items))
		if err := pub.Upsert(ctx, items[start:end]...); err != nil {
			return err
		}
	}
	return nil
}

type queryResponse struct {
	Metadata struct {
		Total     int  `json:"total"`
		FromCache bool `json:"fromCache"`
	} `json:"metadata"`
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(workerID), uint64(time.Now().UnixNano())))

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				nearbyURL := cfg.BaseURL + "/api/v1/nearby?" + cfg.Workload.NearbyQuery(rng)

				start := time.Now()
				resp, err := client.Do(mustNewRequest(ctx, nearbyURL))
				duration := time.Since(start)

				if err != nil {
					if ctx.Err() == nil {
						stats.RecordRequest(duration, 0, err)
					}
					continue
				}
				var qr queryResponse
				if resp.StatusCode == http.StatusOK && json.NewDecoder(resp.Body).Decode(&qr) == nil {
					stats.totalHits.Add(int64(qr.Metadata.Total))
					if qr.Metadata.FromCache {
						stats.cacheHits.Add(1)
					}
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				stats.RecordRequest(duration, resp.StatusCode, nil)
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func mustNewRequest(ctx context.Context, rawURL string) *http.Request {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		panic(fmt.Sprintf("creating request: %v", err))
	}
	return req
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	errors := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Errors:          %d\n", errors)

	if total > 0 {
		errorRate := float64(errors) / float64(total) * 100
		fmt.Printf("Error Rate:      %.2f%%\n", errorRate)
		rps := float64(total) / duration.Seconds()
		fmt.Printf("Requests/sec:    %.2f\n", rps)
	}
	if success > 0 {
		fmt.Printf("Cache Hits:      %d (%.1f%%)\n", stats.cacheHits.Load(), float64(stats.cacheHits.Load())/float64(success)*100)
		fmt.Printf("Avg Matches:     %.1f\n", float64(stats.totalHits.Load())/float64(success))
	}

	stats.latenciesMu.Lock()
	latencies := make([]time.Duration, len(stats.latencies))
	copy(latencies, stats.latencies)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool {
			return latencies[i] < latencies[j]
		})

		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P90:    %s\n", percentile(latencies, 90))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])

		var sumSquared float64
		avgFloat := float64(avg)
		for _, l := range latencies {
			diff := float64(l) - avgFloat
			sumSquared += diff * diff
		}
		stddev := time.Duration(math.Sqrt(sumSquared / float64(len(latencies))))
		fmt.Printf("StdDev: %s\n", stddev)
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	stats.statusCodesMu.Lock()
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		count := stats.statusCodes[code].Load()
		fmt.Printf("  %d: %d\n", code, count)
	}
	stats.statusCodesMu.Unlock()

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
