// Command reputation-producer seeds and streams reputation updates into the
// Kafka topic consumed by the server.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"

	"github.com/moxie-stats/internal/domain"
	"github.com/moxie-stats/pkg/logger"
)

var namePrefixes = []string{
	"dwr", "vitalik", "jessepollak", "linda", "ted", "betashop", "dylan", "horsefacts", "v", "ccarella",
	"pugson", "wake", "df", "nonlinear", "jacob", "rish", "cassie", "colin", "greg", "sahil",
}

func userFor(fid int) domain.ReputationUpdate {
	name := fmt.Sprintf("%s%d", namePrefixes[fid%len(namePrefixes)], fid/len(namePrefixes))
	return domain.ReputationUpdate{
		FID:         strconv.Itoa(fid),
		DisplayName: strings.ToUpper(name[:1]) + name[1:],
		Username:    name,
		AvatarURL:   fmt.Sprintf("https://i.pravatar.cc/150?u=%d", fid),
	}
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "reputation-updates", "Kafka topic")
	firstFID := flag.Int("first-fid", 1, "First fid to create")
	totalUsers := flag.Int("users", 1000, "Total number of users to create")
	updatesPerSecond := flag.Int("rate", 100, "Updates per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	initialOnly := flag.Bool("initial-only", false, "Only create initial users, no continuous updates")
	flag.Parse()

	log := logger.New(logger.Config{Level: "info", Pretty: true})

	if *totalUsers <= 0 || *updatesPerSecond <= 0 {
		log.Fatal().Msg("users and rate must be positive")
	}

	brokerList := strings.Split(*brokers, ",")
	log.Info().
		Strs("brokers", brokerList).
		Str("topic", *topic).
		Int("users", *totalUsers).
		Int("rate", *updatesPerSecond).
		Msg("Starting reputation producer")

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create producer")
	}

	// Handle producer errors and successes
	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Error().Err(err).Msg("Producer error")
		}
	}()

	done := make(chan struct{})
	finish := func(reason string) {
		log.Info().Msg(reason)
		close(done)
		producer.AsyncClose()
		wg.Wait()
		log.Info().
			Int64("sent", atomic.LoadInt64(&successCount)).
			Int64("errors", atomic.LoadInt64(&errorCount)).
			Msg("Completed")
	}

	send := func(update domain.ReputationUpdate) {
		update.Timestamp = time.Now()
		data, err := json.Marshal(update)
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal update")
			return
		}

		msg := &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(update.FID),
			Value: sarama.ByteEncoder(data),
		}

		select {
		case producer.Input() <- msg:
		case <-done:
		}
	}

	// Seed every user once with a score between 100 and 20000
	scores := make([]float64, *totalUsers)
	for i := range scores {
		scores[i] = 100 + rand.Float64()*19900
		u := userFor(*firstFID + i)
		u.Score = scores[i]
		send(u)
	}
	log.Info().Int("users", *totalUsers).Msg("Seeded users")

	if *initialOnly {
		finish("Initial-only mode, exiting")
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / time.Duration(*updatesPerSecond))
	defer ticker.Stop()

	var deadline <-chan time.Time
	if *duration > 0 {
		deadline = time.After(*duration)
	}

	for {
		select {
		case <-sigChan:
			finish("Shutting down")
			return

		case <-deadline:
			finish("Duration reached, shutting down")
			return

		case <-ticker.C:
			i := rand.Intn(*totalUsers)
			// Reputation drifts upward more often than it drops.
			scores[i] = max(scores[i]+rand.Float64()*200-60, 0)

			u := userFor(*firstFID + i)
			u.Score = scores[i]
			send(u)
		}
	}
}
