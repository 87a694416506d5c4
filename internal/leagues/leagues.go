// Package leagues loads league definitions from CSV.
package leagues

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/matchday-crawler/internal/crawler"
)

var header = []string{"id", "label", "tag", "region_tag", "year"}

// Load reads path and returns the usable league configs.
func Load(path string, logger *zap.Logger) ([]crawler.EntityConfig, error) {
	f, err := os.Open(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return nil, fmt.Errorf("open leagues file: %w", err)
	}
	defer f.Close()
	return Parse(f, logger)
}

// Parse reads id,label,tag,region_tag,year rows. The header row is optional.
// Rows missing an id or label, or with a non-numeric year, are skipped with a
// warning. Duplicate (id, year) pairs keep the first row.
func Parse(r io.Reader, logger *zap.Logger) ([]crawler.EntityConfig, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var (
		out  []crawler.EntityConfig
		seen = make(map[string]struct{})
		line int
	)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read leagues csv: %w", err)
		}
		line++
		if line == 1 && isHeader(row) {
			continue
		}
		cfg, err := parseRow(row)
		if err != nil {
			logger.Warn("skipping league row", zap.Int("line", line), zap.Error(err))
			continue
		}
		key := cfg.ID + "|" + strconv.Itoa(cfg.Year)
		if _, dup := seen[key]; dup {
			logger.Warn("duplicate league row", zap.Int("line", line), zap.String("league_id", cfg.ID), zap.Int("year", cfg.Year))
			continue
		}
		seen[key] = struct{}{}
		out = append(out, cfg)
	}
	return out, nil
}

func isHeader(row []string) bool {
	if len(row) < len(header) {
		return false
	}
	for i, name := range header {
		if !strings.EqualFold(strings.TrimSpace(row[i]), name) {
			return false
		}
	}
	return true
}

func parseRow(row []string) (crawler.EntityConfig, error) {
	if len(row) < len(header) {
		return crawler.EntityConfig{}, fmt.Errorf("expected %d columns, got %d", len(header), len(row))
	}
	year, err := strconv.Atoi(strings.TrimSpace(row[4]))
	if err != nil {
		return crawler.EntityConfig{}, fmt.Errorf("year %q is not numeric", row[4])
	}
	cfg := crawler.EntityConfig{
		ID:        strings.TrimSpace(row[0]),
		Label:     CanonicalLabel(row[1]),
		Tag:       strings.TrimSpace(row[2]),
		RegionTag: strings.TrimSpace(row[3]),
		Year:      year,
	}
	if err := cfg.Validate(); err != nil {
		return crawler.EntityConfig{}, err
	}
	return cfg, nil
}

// CanonicalLabel trims, collapses inner whitespace and upper-cases ASCII
// letters, so "k4리그" and "K4리그" name the same league.
func CanonicalLabel(label string) string {
	fields := strings.Fields(label)
	joined := strings.Join(fields, " ")
	b := []byte(joined)
	for i, c := range b {
		if 'a' <= c && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}
