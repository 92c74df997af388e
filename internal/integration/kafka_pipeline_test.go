//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/twpayne/go-geom"
	"golang.org/x/image/tiff"

	"github.com/couchcryptid/epiweek-climate-etl/internal/adapter/archive"
	"github.com/couchcryptid/epiweek-climate-etl/internal/adapter/kafka"
	"github.com/couchcryptid/epiweek-climate-etl/internal/adapter/sheet"
	"github.com/couchcryptid/epiweek-climate-etl/internal/domain"
	"github.com/couchcryptid/epiweek-climate-etl/internal/observability"
	"github.com/couchcryptid/epiweek-climate-etl/internal/pipeline"
	"github.com/couchcryptid/epiweek-climate-etl/internal/product"
	"github.com/couchcryptid/epiweek-climate-etl/internal/raster"
)

const testTopic = "test-epiweek-stats"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("epiweek-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cc, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cc.Close()

	require.NoError(t, cc.CreateTopics(kafkago.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))
}

// writeBand writes a 2x2 CHIRPS band in hundredths of mm at 1000-unit pixels
// covering (0,0)-(2000,2000).
func writeBand(t *testing.T, root, day string, values [4]uint16) {
	t.Helper()
	dir := filepath.Join(root, filepath.FromSlash(product.Precipitation.Collection))
	require.NoError(t, os.MkdirAll(dir, 0o755))

	img := image.NewGray16(image.Rect(0, 0, 2, 2))
	for i, v := range values {
		img.SetGray16(i%2, i/2, color.Gray16{Y: v})
	}
	f, err := os.Create(filepath.Join(dir, day+"_precipitation.tif"))
	require.NoError(t, err)
	require.NoError(t, tiff.Encode(f, img, nil))
	require.NoError(t, f.Close())
	require.NoError(t, os.WriteFile(filepath.Join(dir, day+"_precipitation.tfw"),
		[]byte("1000\n0\n0\n-1000\n500\n1500\n"), 0o644))
}

type publishedRow struct {
	Key     string
	Headers map[string]string
	Product string              `json:"product"`
	Polygon string              `json:"polygon_id"`
	Week    int                 `json:"week"`
	Values  map[string]*float64 `json:"values"`
}

func readRow(ctx context.Context, t *testing.T, consumer *kafkago.Reader) publishedRow {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from topic")

	var row publishedRow
	require.NoError(t, json.Unmarshal(msg.Value, &row))
	row.Key = string(msg.Key)
	row.Headers = make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		row.Headers[h.Key] = string(h.Value)
	}
	return row
}

// TestPipelineEndToEnd runs archive -> pipeline -> xlsx + Kafka for two weeks,
// the second of which has no observations.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	root := t.TempDir()
	writeBand(t, root, "20240101", [4]uint16{100, 200, 300, 400})
	writeBand(t, root, "20240102", [4]uint16{100, 100, 100, 100})

	metrics := observability.NewMetricsForTesting()
	store, err := archive.New(os.DirFS(root), discardLogger(),
		archive.WithBandScale("precipitation", 0.01),
		archive.WithMetrics(metrics),
	)
	require.NoError(t, err)

	outPath := filepath.Join(t.TempDir(), "PRECIPITATION_2024.xlsx")
	writer, err := sheet.NewWriter(outPath, discardLogger(), metrics)
	require.NoError(t, err)
	publisher := kafka.NewPublisher([]string{broker}, testTopic, discardLogger(), metrics)
	t.Cleanup(func() { _ = publisher.Close() })

	windows, err := domain.BuildWindows([]domain.WeekRecord{
		{Year: 2024, WeekID: 1, StartDate: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)},
		{Year: 2024, WeekID: 2, StartDate: time.Date(2024, time.January, 8, 0, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)
	zone, err := raster.NewPolygon("z", geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{0, 0}, {2000, 0}, {2000, 2000}, {0, 2000}, {0, 0},
	}}))
	require.NoError(t, err)

	p := pipeline.New(store, store, []pipeline.Loader{writer, publisher}, discardLogger(), metrics, pipeline.DefaultRetryPolicy())
	tables, err := p.Run(ctx, pipeline.Job{
		Product:    product.Precipitation,
		Windows:    windows,
		Polygons:   []raster.Polygon{zone},
		Statistics: []domain.Statistic{domain.Count, domain.Mean, domain.Sum},
		Resolution: 1000,
	})
	require.NoError(t, err)
	require.Len(t, tables, 1)

	sheets, err := sheet.ReadTables(outPath)
	require.NoError(t, err)
	require.Len(t, sheets, 1)
	assert.Equal(t, []int{1, 2}, sheets[0].Weeks)
	sums, ok := sheets[0].Column("SUM")
	require.True(t, ok)
	assert.InDelta(t, 14, sums[0], 1e-9)
	assert.InDelta(t, 0, sums[1], 0)

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	rows := map[int]publishedRow{}
	for len(rows) < 2 {
		r := readRow(ctx, t, consumer)
		rows[r.Week] = r
	}

	first := rows[1]
	assert.Equal(t, "precipitation/z/2024-1", first.Key)
	assert.Equal(t, "precipitation", first.Headers["product"])
	_, err = time.Parse(time.RFC3339, first.Headers["processed_at"])
	assert.NoError(t, err, "processed_at should be valid RFC3339")
	require.NotNil(t, first.Values["COUNT"])
	assert.InDelta(t, 4, *first.Values["COUNT"], 0)
	require.NotNil(t, first.Values["MEAN"])
	assert.InDelta(t, 3.5, *first.Values["MEAN"], 1e-9)

	second := rows[2]
	assert.Equal(t, "precipitation/z/2024-2", second.Key)
	require.NotNil(t, second.Values["SUM"])
	assert.InDelta(t, 0, *second.Values["SUM"], 0)
}
