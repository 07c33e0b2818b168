package warehouse

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/janovincze/tributary/internal/export"
)

// changelogRow is the parquet shape of one change record. The tags define the
// parquet schema and must stay in line with ChangelogSchema.
type changelogRow struct {
	Timestamp    int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MICROS"`
	EventID      string  `parquet:"name=event_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	DocumentName string  `parquet:"name=document_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Operation    string  `parquet:"name=operation, type=BYTE_ARRAY, convertedtype=UTF8"`
	Data         *string `parquet:"name=data, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	OldData      *string `parquet:"name=old_data, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	DocumentID   string  `parquet:"name=document_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	PathParams   *string `parquet:"name=path_params, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
}

func toChangelogRow(r export.ChangeRecord) (changelogRow, error) {
	row := changelogRow{
		Timestamp:    r.Timestamp.UTC().UnixMicro(),
		EventID:      r.EventID,
		DocumentName: r.DocumentName,
		Operation:    string(r.Operation),
		Data:         optionalJSON(r.Data),
		OldData:      optionalJSON(r.OldData),
		DocumentID:   r.DocumentID,
	}

	if len(r.PathParams) > 0 {
		params, err := json.Marshal(r.PathParams)
		if err != nil {
			return changelogRow{}, fmt.Errorf("marshal path params: %w", err)
		}
		s := string(params)
		row.PathParams = &s
	}

	return row, nil
}

func optionalJSON(raw json.RawMessage) *string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	s := string(raw)
	return &s
}

// dataFile is one encoded parquet file for a single day partition.
type dataFile struct {
	Day         int
	FileName    string
	Data        []byte
	RecordCount int64
}

// SizeInBytes returns the encoded size.
func (f dataFile) SizeInBytes() int64 {
	return int64(len(f.Data))
}

// partitionDay returns the Iceberg day transform of t: days since the epoch.
func partitionDay(t time.Time) int {
	secs := t.UTC().Unix()
	day := secs / 86400
	if secs%86400 < 0 {
		day--
	}
	return int(day)
}

// dayString formats an Iceberg day value as a date.
func dayString(day int) string {
	return time.Unix(int64(day)*86400, 0).UTC().Format(time.DateOnly)
}

// parquetEncoder converts change records to parquet files.
type parquetEncoder struct {
	compression parquet.CompressionCodec
}

func newParquetEncoder() *parquetEncoder {
	return &parquetEncoder{compression: parquet.CompressionCodec_SNAPPY}
}

// Encode writes rows as one parquet file per day partition, in day order.
func (p *parquetEncoder) Encode(rows []export.ChangeRecord) ([]dataFile, error) {
	if len(rows) == 0 {
		return nil, ErrNoRows
	}

	byDay := make(map[int][]export.ChangeRecord)
	for _, r := range rows {
		day := partitionDay(r.Timestamp)
		byDay[day] = append(byDay[day], r)
	}

	days := make([]int, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Ints(days)

	files := make([]dataFile, 0, len(days))
	for _, day := range days {
		data, err := p.encodeFile(byDay[day])
		if err != nil {
			return nil, err
		}
		files = append(files, dataFile{
			Day:         day,
			FileName:    fmt.Sprintf("%s-%d.parquet", uuid.New().String(), time.Now().UnixMilli()),
			Data:        data,
			RecordCount: int64(len(byDay[day])),
		})
	}
	return files, nil
}

func (p *parquetEncoder) encodeFile(rows []export.ChangeRecord) ([]byte, error) {
	fw := buffer.NewBufferFileFromBytes(nil)

	pw, err := writer.NewParquetWriter(fw, new(changelogRow), 1)
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = p.compression

	for _, r := range rows {
		row, err := toChangelogRow(r)
		if err != nil {
			return nil, err
		}
		if err := pw.Write(&row); err != nil {
			return nil, fmt.Errorf("write record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}

	return fw.Bytes(), nil
}
