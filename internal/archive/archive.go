// Package archive exports open-interest observations to S3 as
// partitioned Parquet files for offline analysis. The archive is
// optional; when disabled the fetcher writes to QuestDB only.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "optionflow/config"
	"optionflow/logger"
	"optionflow/models"
)

type oiParquetRecord struct {
	Timestamp  int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Symbol     string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Exchange   string  `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	Expiry     string  `parquet:"name=expiry, type=BYTE_ARRAY, convertedtype=UTF8"`
	Strike     float64 `parquet:"name=strike, type=DOUBLE"`
	OptionType string  `parquet:"name=option_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	OI         int64   `parquet:"name=oi, type=INT64"`
	Volume     int64   `parquet:"name=volume, type=INT64"`
	LastPrice  float64 `parquet:"name=last_price, type=DOUBLE"`
	Bid        float64 `parquet:"name=bid, type=DOUBLE"`
	Ask        float64 `parquet:"name=ask, type=DOUBLE"`
	ImpliedVol float64 `parquet:"name=iv, type=DOUBLE"`
}

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

// Exporter buffers OI records per symbol and uploads them to S3 as
// Parquet files, flushed on an interval or when a buffer fills.
type Exporter struct {
	cfg      appconfig.ArchiveConfig
	version  string
	s3Client *s3.Client
	log      *logger.Log

	mu     sync.Mutex
	buffer map[string][]models.OIRecord

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	flushTicker *time.Ticker
	running     bool
}

// NewExporter builds the S3 client from the archive config. Static
// credentials are used when configured; otherwise the default AWS
// provider chain applies.
func NewExporter(cfg *appconfig.Config) (*Exporter, error) {
	if !cfg.Archive.Enabled {
		return nil, fmt.Errorf("archive disabled")
	}

	ctx := context.Background()
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Archive.S3.Region)}
	if cfg.Archive.S3.AccessKeyID != "" && cfg.Archive.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Archive.S3.AccessKeyID,
				cfg.Archive.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Archive.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Archive.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Archive.S3.PathStyle
	})

	return &Exporter{
		cfg:      cfg.Archive,
		version:  cfg.Optionflow.Version,
		s3Client: s3Client,
		log:      logger.GetLogger(),
		buffer:   make(map[string][]models.OIRecord),
	}, nil
}

// Start launches the periodic flush loop.
func (e *Exporter) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("archive exporter already running")
	}
	e.running = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.flushTicker = time.NewTicker(e.cfg.FlushInterval)
	e.mu.Unlock()

	e.wg.Add(1)
	go e.flushLoop()

	e.log.WithComponent("archive").WithFields(logger.Fields{
		"bucket":         e.cfg.S3.Bucket,
		"flush_interval": e.cfg.FlushInterval.String(),
		"max_buffer":     e.cfg.MaxBuffer,
	}).Info("archive exporter started")
	return nil
}

// Stop flushes the remaining buffers and waits for uploads to finish.
func (e *Exporter) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	ticker := e.flushTicker
	e.mu.Unlock()

	ticker.Stop()
	e.flushAll("shutdown")
	cancel()
	e.wg.Wait()
	e.log.WithComponent("archive").Info("archive exporter stopped")
}

// Add buffers one record; a full symbol buffer is flushed inline.
func (e *Exporter) Add(rec models.OIRecord) {
	e.mu.Lock()
	e.buffer[rec.Symbol] = append(e.buffer[rec.Symbol], rec)
	var full []models.OIRecord
	if len(e.buffer[rec.Symbol]) >= e.cfg.MaxBuffer {
		full = e.buffer[rec.Symbol]
		delete(e.buffer, rec.Symbol)
	}
	e.mu.Unlock()

	if len(full) > 0 {
		e.upload(rec.Symbol, full, "max_buffer")
	}
}

func (e *Exporter) flushLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.flushTicker.C:
			e.flushAll("interval")
		}
	}
}

func (e *Exporter) flushAll(reason string) {
	e.mu.Lock()
	buffers := e.buffer
	e.buffer = make(map[string][]models.OIRecord)
	e.mu.Unlock()

	for symbol, records := range buffers {
		if len(records) == 0 {
			continue
		}
		e.upload(symbol, records, reason)
	}
}

func (e *Exporter) upload(symbol string, records []models.OIRecord, reason string) {
	entryLog := e.log.WithComponent("archive").WithFields(logger.Fields{
		"symbol":       symbol,
		"record_count": len(records),
		"reason":       reason,
	})

	data, err := e.createParquet(records)
	if err != nil {
		entryLog.WithError(err).Error("failed to create oi parquet")
		return
	}

	key := e.objectKey(symbol, records[len(records)-1].Timestamp)
	if err := e.putObject(key, data); err != nil {
		entryLog.WithError(err).WithFields(logger.Fields{"key": key}).Error("failed to upload oi parquet")
		return
	}

	entryLog.WithFields(logger.Fields{
		"s3_key":    key,
		"file_size": len(data),
	}).Info("oi batch archived")
}

func (e *Exporter) createParquet(records []models.OIRecord) ([]byte, error) {
	mem := newMemFile()
	pw, err := writer.NewParquetWriter(mem, new(oiParquetRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("new parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		row := oiParquetRecord{
			Timestamp:  rec.Timestamp.UnixMilli(),
			Symbol:     rec.Symbol,
			Exchange:   rec.Exchange,
			Expiry:     rec.Expiry,
			Strike:     rec.Strike,
			OptionType: string(rec.OptionType),
			OI:         rec.OI,
			Volume:     rec.Volume,
			LastPrice:  rec.LastPrice,
			Bid:        rec.Bid,
			Ask:        rec.Ask,
			ImpliedVol: rec.ImpliedVol,
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet: %w", err)
	}
	return mem.Bytes(), nil
}

func (e *Exporter) objectKey(symbol string, ts time.Time) string {
	filename := fmt.Sprintf("%s_%s.parquet",
		ts.UTC().Format("20060102150405"),
		uuid.NewString(),
	)
	return path.Join(
		"options_oi",
		fmt.Sprintf("date=%s", ts.UTC().Format("2006-01-02")),
		fmt.Sprintf("symbol=%s", strings.ToUpper(symbol)),
		filename,
	)
}

func (e *Exporter) putObject(key string, data []byte) error {
	ctx, cancel := context.WithTimeout(e.ctx, 2*time.Minute)
	defer cancel()

	_, err := e.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.cfg.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":       "parquet",
			"optionflow-version": e.version,
		},
	})
	if err != nil {
		return fmt.Errorf("upload oi parquet: %w", err)
	}
	return nil
}
