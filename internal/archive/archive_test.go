package archive

import (
	"strings"
	"testing"
	"time"

	appconfig "optionflow/config"
	"optionflow/logger"
	"optionflow/models"
)

func testExporter() *Exporter {
	return &Exporter{
		cfg: appconfig.ArchiveConfig{
			MaxBuffer: 4,
			S3:        appconfig.S3Config{Bucket: "test-bucket"},
		},
		log:    logger.GetLogger(),
		buffer: make(map[string][]models.OIRecord),
	}
}

func sampleRecord(ts time.Time) models.OIRecord {
	return models.OIRecord{
		Timestamp:  ts,
		Symbol:     "NIFTY",
		Exchange:   "NFO",
		Expiry:     "27-NOV-25",
		Strike:     24650,
		OptionType: models.Call,
		OI:         1250000,
		Volume:     320000,
		LastPrice:  95.5,
		Bid:        95.3,
		Ask:        95.7,
		ImpliedVol: 14.2,
	}
}

func TestCreateParquet(t *testing.T) {
	e := testExporter()
	ts := time.Date(2025, 11, 24, 11, 0, 0, 0, time.UTC)

	records := []models.OIRecord{sampleRecord(ts), sampleRecord(ts.Add(time.Minute))}
	data, err := e.createParquet(records)
	if err != nil {
		t.Fatalf("createParquet failed: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("parquet output is empty")
	}
	// Parquet files start and end with the PAR1 magic.
	if string(data[:4]) != "PAR1" || string(data[len(data)-4:]) != "PAR1" {
		t.Error("output is not a parquet file")
	}
}

func TestObjectKeyLayout(t *testing.T) {
	e := testExporter()
	ts := time.Date(2025, 11, 24, 11, 0, 0, 0, time.UTC)

	key := e.objectKey("nifty", ts)
	if !strings.HasPrefix(key, "options_oi/date=2025-11-24/symbol=NIFTY/") {
		t.Errorf("unexpected key prefix: %s", key)
	}
	if !strings.HasSuffix(key, ".parquet") {
		t.Errorf("unexpected key suffix: %s", key)
	}
	if strings.Contains(key, "\\") {
		t.Errorf("key must use forward slashes: %s", key)
	}

	other := e.objectKey("nifty", ts)
	if key == other {
		t.Error("object keys should be unique per upload")
	}
}
