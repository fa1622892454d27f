/*
	Basic Script that generates random churn against a local store file for testing.
	Uses $AKVDB_KEY when set, otherwise generates a key and prints it.
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/0xRadioAc7iv/go-akvdb/core"
	"github.com/0xRadioAc7iv/go-akvdb/internal"
	"github.com/0xRadioAc7iv/go-akvdb/internal/secret"
	"github.com/0xRadioAc7iv/go-akvdb/internal/utils"
)

const (
	concurrency = 6

	// Fixed universe
	totalKeys   = 100
	totalValues = 100

	// Per-cycle behavior
	keysPerCycleWrite  = 20
	keysPerCycleDelete = 10
	cyclesPerWorker    = 500

	progressEvery = 100
)

// lockedStore serializes the workers; a Store has a single writer.
type lockedStore struct {
	mu    sync.Mutex
	store *core.Store
}

func (l *lockedStore) do(fn func(s *core.Store) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(l.store)
}

func main() {
	cfg := internal.DefaultConfig()
	flag.StringVar(&cfg.Path, "file", "churn"+core.DataFileExt, "Data file to write to")
	cfg.BindFlags(flag.CommandLine)
	flag.Parse()

	if cfg.KeyText == "" && os.Getenv(secret.KeyEnvVar) == "" {
		_, text, err := secret.GenerateKey()
		if err != nil {
			fmt.Println("keygen error:", err)
			os.Exit(1)
		}
		cfg.KeyText = text
		fmt.Printf("Generated key, read the data back with %s=%s\n", secret.KeyEnvVar, text)
	}

	logger, err := utils.NewLogger(cfg.Verbose)
	if err != nil {
		fmt.Println("logger error:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	store, err := cfg.OpenStore(logger)
	if err != nil {
		fmt.Println("open error:", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, stop := utils.ContextUntilInterruptOrKill(context.Background())
	defer stop()

	start := time.Now()
	fmt.Println("Starting churn-heavy load generator (Ctrl+C to stop early)")

	keys := makeKeys(totalKeys)
	values := makeValues(totalValues)
	ls := &lockedStore{store: store}

	var wg sync.WaitGroup

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runWorker(ctx, id, ls, keys, values)
		}(i)
	}

	wg.Wait()

	if err := store.Load(); err != nil {
		fmt.Println("verify error:", err)
		os.Exit(1)
	}
	fmt.Printf("Load finished in %v, %d live keys in %s\n", time.Since(start), store.Len(), store.Path())
}

func runWorker(ctx context.Context, id int, ls *lockedStore, keys []string, values []string) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))

	for cycle := 1; cycle <= cyclesPerWorker; cycle++ {
		if ctx.Err() != nil {
			fmt.Printf("[worker %d] stopped after %d cycles\n", id, cycle-1)
			return
		}

		// ---- WRITE / OVERWRITE PHASE ----
		for i := 0; i < keysPerCycleWrite; i++ {
			key := keys[rng.Intn(len(keys))]
			val := values[rng.Intn(len(values))]

			if err := ls.do(func(s *core.Store) error {
				_, err := s.Insert([]byte(key), []byte(val))
				return err
			}); err != nil {
				fmt.Printf("[worker %d] INSERT error: %v\n", id, err)
				return
			}
		}

		// ---- DELETE PHASE ----
		for i := 0; i < keysPerCycleDelete; i++ {
			key := keys[rng.Intn(len(keys))]

			if err := ls.do(func(s *core.Store) error {
				_, err := s.Delete([]byte(key))
				return err
			}); err != nil {
				fmt.Printf("[worker %d] DELETE error: %v\n", id, err)
				return
			}
		}

		// ---- REWRITE PHASE ----
		for i := 0; i < keysPerCycleWrite/2; i++ {
			key := keys[rng.Intn(len(keys))]
			val := values[rng.Intn(len(values))]

			if err := ls.do(func(s *core.Store) error {
				_, err := s.Update([]byte(key), []byte(val))
				return err
			}); err != nil {
				fmt.Printf("[worker %d] UPDATE error: %v\n", id, err)
				return
			}
		}

		if cycle%progressEvery == 0 {
			fmt.Printf("[worker %d] completed %d cycles\n", id, cycle)
		}
	}
}

func makeKeys(n int) []string {
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i] = fmt.Sprintf("key-%03d", i)
	}
	return keys
}

func makeValues(n int) []string {
	values := make([]string, n)
	for i := 0; i < n; i++ {
		values[i] = fmt.Sprintf("value-%03d-xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx", i)
	}
	return values
}
