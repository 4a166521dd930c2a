package writer

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/thiago-r-goveia/exclude-builder/internal/models"
)

const (
	fitsBlockSize = 2880
	fitsCardSize  = 80
)

// FITSWriter writes an empty primary HDU followed by a BINTABLE extension with
// EXPNUM (J, int32), CCDNUM (I, int16), REASON and ANALYST (fixed-width A).
// All numbers are big-endian. Strings are NUL-padded and truncated to their width.
type FITSWriter struct {
	ReasonWidth  int
	AnalystWidth int
	logger       *zap.Logger
}

func (w *FITSWriter) Write(path string, records []models.ExclusionRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", path, err)
	}

	buf := bufio.NewWriter(file)
	if err := w.Encode(buf, records); err != nil {
		file.Close()
		return err
	}
	if err := buf.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	return file.Close()
}

func (w *FITSWriter) rowSize() int {
	return 4 + 2 + w.ReasonWidth + w.AnalystWidth
}

func (w *FITSWriter) Encode(out io.Writer, records []models.ExclusionRecord) error {
	logger := w.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	primary := []string{
		fitsCard("SIMPLE", "T", "file does conform to FITS standard"),
		fitsCard("BITPIX", 8, "number of bits per data pixel"),
		fitsCard("NAXIS", 0, "number of data axes"),
		fitsCard("EXTEND", "T", "FITS dataset may contain extensions"),
	}
	if err := writeFITSHeader(out, primary); err != nil {
		return err
	}

	extension := []string{
		fitsCard("XTENSION", "'BINTABLE'", "binary table extension"),
		fitsCard("BITPIX", 8, "8-bit bytes"),
		fitsCard("NAXIS", 2, "2-dimensional binary table"),
		fitsCard("NAXIS1", w.rowSize(), "width of table in bytes"),
		fitsCard("NAXIS2", len(records), "number of rows in table"),
		fitsCard("PCOUNT", 0, "size of special data area"),
		fitsCard("GCOUNT", 1, "one data group (required keyword)"),
		fitsCard("TFIELDS", len(Columns), "number of fields in each row"),
		fitsCard("TTYPE1", fitsString(ColumnExpNum), ""),
		fitsCard("TFORM1", fitsString("J"), ""),
		fitsCard("TTYPE2", fitsString(ColumnCCDNum), ""),
		fitsCard("TFORM2", fitsString("I"), ""),
		fitsCard("TTYPE3", fitsString(ColumnReason), ""),
		fitsCard("TFORM3", fitsString(fmt.Sprintf("%dA", w.ReasonWidth)), ""),
		fitsCard("TTYPE4", fitsString(ColumnAnalyst), ""),
		fitsCard("TFORM4", fitsString(fmt.Sprintf("%dA", w.AnalystWidth)), ""),
	}
	if err := writeFITSHeader(out, extension); err != nil {
		return err
	}

	truncated := make(map[string]bool)
	row := make([]byte, w.rowSize())
	for _, r := range records {
		binary.BigEndian.PutUint32(row[0:4], uint32(r.ExpNum))
		binary.BigEndian.PutUint16(row[4:6], uint16(r.CCDNum))
		if putFixed(row[6:6+w.ReasonWidth], r.Reason) && !truncated["reason:"+r.Reason] {
			truncated["reason:"+r.Reason] = true
			logger.Warn("Reason truncated to column width", zap.String("reason", r.Reason), zap.Int("width", w.ReasonWidth))
		}
		if putFixed(row[6+w.ReasonWidth:], r.Analyst) && !truncated["analyst:"+r.Analyst] {
			truncated["analyst:"+r.Analyst] = true
			logger.Warn("Analyst truncated to column width", zap.String("analyst", r.Analyst), zap.Int("width", w.AnalystWidth))
		}
		if _, err := out.Write(row); err != nil {
			return fmt.Errorf("failed to write FITS row: %w", err)
		}
	}

	dataSize := len(records) * w.rowSize()
	if pad := padding(dataSize); pad > 0 {
		if _, err := out.Write(make([]byte, pad)); err != nil {
			return fmt.Errorf("failed to pad FITS data: %w", err)
		}
	}
	return nil
}

// putFixed copies s into dst, NUL-padding the rest. It reports whether s was truncated.
func putFixed(dst []byte, s string) bool {
	fitted := TruncateToWidth(s, len(dst))
	n := copy(dst, fitted)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	return len(fitted) < len(s)
}

// TruncateToWidth cuts s to at most width bytes without splitting a UTF-8 sequence.
func TruncateToWidth(s string, width int) string {
	if len(s) <= width {
		return s
	}
	cut := width
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func padding(size int) int {
	if rem := size % fitsBlockSize; rem != 0 {
		return fitsBlockSize - rem
	}
	return 0
}

func fitsString(s string) string {
	return "'" + fmt.Sprintf("%-8s", strings.ReplaceAll(s, "'", "''")) + "'"
}

// fitsCard formats one 80-character header card. Strings are passed pre-quoted;
// logicals and integers are right-justified to column 30.
func fitsCard(key string, value any, comment string) string {
	var field string
	switch v := value.(type) {
	case int:
		field = fmt.Sprintf("%20d", v)
	case string:
		if strings.HasPrefix(v, "'") {
			field = v
		} else {
			field = fmt.Sprintf("%20s", v)
		}
	}

	card := fmt.Sprintf("%-8s= %s", key, field)
	if comment != "" && len(card)+3+len(comment) <= fitsCardSize {
		card += " / " + comment
	}
	if len(card) > fitsCardSize {
		card = card[:fitsCardSize]
	}
	return fmt.Sprintf("%-80s", card)
}

func writeFITSHeader(out io.Writer, cards []string) error {
	var buf bytes.Buffer
	for _, c := range cards {
		buf.WriteString(c)
	}
	buf.WriteString(fmt.Sprintf("%-80s", "END"))
	if pad := padding(buf.Len()); pad > 0 {
		buf.Write(bytes.Repeat([]byte{' '}, pad))
	}
	if _, err := out.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write FITS header: %w", err)
	}
	return nil
}

// ReadFITS reads a FITS exclusion table written by FITSWriter.
func ReadFITS(path string) ([]models.ExclusionRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	records, err := DecodeFITS(bufio.NewReader(file))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return records, nil
}

type fitsColumn struct {
	name   string
	kind   byte
	width  int
	offset int
}

// DecodeFITS reads the first BINTABLE extension and extracts the exclusion columns by name.
func DecodeFITS(in io.Reader) ([]models.ExclusionRecord, error) {
	primary, err := readFITSHeader(in)
	if err != nil {
		return nil, fmt.Errorf("failed to read primary header: %w", err)
	}
	if primary["SIMPLE"] != "T" {
		return nil, errors.New("not a FITS file")
	}
	if naxis, _ := strconv.Atoi(primary["NAXIS"]); naxis != 0 {
		return nil, fmt.Errorf("unexpected primary data with NAXIS=%d", naxis)
	}

	header, err := readFITSHeader(in)
	if err != nil {
		return nil, fmt.Errorf("failed to read table header: %w", err)
	}
	if header["XTENSION"] != "BINTABLE" {
		return nil, fmt.Errorf("unexpected extension %q", header["XTENSION"])
	}

	rowSize, _ := strconv.Atoi(header["NAXIS1"])
	numRows, _ := strconv.Atoi(header["NAXIS2"])
	numFields, _ := strconv.Atoi(header["TFIELDS"])

	columns := make(map[string]fitsColumn, numFields)
	offset := 0
	for i := 1; i <= numFields; i++ {
		col, err := parseTFORM(header[fmt.Sprintf("TFORM%d", i)])
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
		col.name = strings.ToUpper(header[fmt.Sprintf("TTYPE%d", i)])
		col.offset = offset
		offset += col.width
		columns[col.name] = col
	}
	if offset != rowSize {
		return nil, fmt.Errorf("column widths sum to %d but NAXIS1 is %d", offset, rowSize)
	}
	for _, name := range Columns {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("missing column %s", name)
		}
	}

	records := make([]models.ExclusionRecord, 0, numRows)
	row := make([]byte, rowSize)
	for i := 0; i < numRows; i++ {
		if _, err := io.ReadFull(in, row); err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", i+1, err)
		}
		exp, err := fitsInt(row, columns[ColumnExpNum])
		if err != nil {
			return nil, err
		}
		ccd, err := fitsInt(row, columns[ColumnCCDNum])
		if err != nil {
			return nil, err
		}
		records = append(records, models.ExclusionRecord{
			ExpNum:  int32(exp),
			CCDNum:  int16(ccd),
			Reason:  fitsText(row, columns[ColumnReason]),
			Analyst: fitsText(row, columns[ColumnAnalyst]),
		})
	}
	return records, nil
}

func parseTFORM(tform string) (fitsColumn, error) {
	tform = strings.TrimSpace(tform)
	if tform == "" {
		return fitsColumn{}, errors.New("missing TFORM")
	}
	kind := tform[len(tform)-1]
	repeat := 1
	if len(tform) > 1 {
		n, err := strconv.Atoi(tform[:len(tform)-1])
		if err != nil {
			return fitsColumn{}, fmt.Errorf("invalid TFORM %q", tform)
		}
		repeat = n
	}

	var size int
	switch kind {
	case 'A', 'B', 'L':
		size = 1
	case 'I':
		size = 2
	case 'J', 'E':
		size = 4
	case 'K', 'D':
		size = 8
	default:
		return fitsColumn{}, fmt.Errorf("unsupported TFORM %q", tform)
	}
	return fitsColumn{kind: kind, width: size * repeat}, nil
}

func fitsInt(row []byte, col fitsColumn) (int64, error) {
	b := row[col.offset : col.offset+col.width]
	switch {
	case col.kind == 'I' && col.width == 2:
		return int64(int16(binary.BigEndian.Uint16(b))), nil
	case col.kind == 'J' && col.width == 4:
		return int64(int32(binary.BigEndian.Uint32(b))), nil
	case col.kind == 'K' && col.width == 8:
		return int64(binary.BigEndian.Uint64(b)), nil
	}
	return 0, fmt.Errorf("column %s is not a scalar integer", col.name)
}

func fitsText(row []byte, col fitsColumn) string {
	b := row[col.offset : col.offset+col.width]
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimRight(string(b), " ")
}

// readFITSHeader consumes 2880-byte blocks until the END card and returns keyword values.
// String values are unquoted.
func readFITSHeader(in io.Reader) (map[string]string, error) {
	values := make(map[string]string)
	block := make([]byte, fitsBlockSize)
	for {
		if _, err := io.ReadFull(in, block); err != nil {
			return nil, err
		}
		for i := 0; i < fitsBlockSize; i += fitsCardSize {
			card := string(block[i : i+fitsCardSize])
			key := strings.TrimSpace(card[:8])
			if key == "END" {
				return values, nil
			}
			if len(card) < 10 || card[8:10] != "= " {
				continue
			}
			values[key] = cardValue(card[10:])
		}
	}
}

func cardValue(field string) string {
	field = strings.TrimSpace(field)
	if strings.HasPrefix(field, "'") {
		var sb strings.Builder
		for i := 1; i < len(field); i++ {
			if field[i] == '\'' {
				if i+1 < len(field) && field[i+1] == '\'' {
					sb.WriteByte('\'')
					i++
					continue
				}
				break
			}
			sb.WriteByte(field[i])
		}
		return strings.TrimRight(sb.String(), " ")
	}
	if i := strings.Index(field, "/"); i >= 0 {
		field = field[:i]
	}
	return strings.TrimSpace(field)
}
