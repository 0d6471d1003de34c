package export

import (
	"bufio"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"

	"veriledger/internal/ledger/models"
)

type ledgerWriter interface {
	begin(h Header) error
	entry(e *models.Entry, status models.Status) error
	end() error
}

// jsonLedgerWriter emits {"header":{...},"entries":[...]} one entry at a time.
type jsonLedgerWriter struct {
	w     *bufio.Writer
	count int
}

func newJSONLedgerWriter(w io.Writer) *jsonLedgerWriter {
	return &jsonLedgerWriter{w: bufio.NewWriter(w)}
}

func (j *jsonLedgerWriter) begin(h Header) error {
	raw, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	j.w.WriteString(`{"header":`)
	j.w.Write(raw)
	_, err = j.w.WriteString(`,"entries":[`)
	return err
}

func (j *jsonLedgerWriter) entry(e *models.Entry, status models.Status) error {
	raw, err := json.Marshal(toEntry(e, status))
	if err != nil {
		return fmt.Errorf("encode entry %d: %w", e.Seq, err)
	}
	if j.count > 0 {
		j.w.WriteByte(',')
	}
	j.w.WriteString("\n  ")
	j.count++
	_, err = j.w.Write(raw)
	return err
}

func (j *jsonLedgerWriter) end() error {
	j.w.WriteString("\n]}\n")
	return j.w.Flush()
}

type xmlLedgerWriter struct {
	w   io.Writer
	enc *xml.Encoder
}

var (
	rootElement    = xml.StartElement{Name: xml.Name{Local: "RegistroAuditoria"}}
	recordsElement = xml.StartElement{Name: xml.Name{Local: "Registros"}}
)

func newXMLLedgerWriter(w io.Writer) *xmlLedgerWriter {
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	return &xmlLedgerWriter{w: w, enc: enc}
}

func (x *xmlLedgerWriter) begin(h Header) error {
	if _, err := io.WriteString(x.w, xml.Header); err != nil {
		return err
	}
	if err := x.enc.EncodeToken(rootElement); err != nil {
		return err
	}
	if err := x.enc.Encode(h); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	return x.enc.EncodeToken(recordsElement)
}

func (x *xmlLedgerWriter) entry(e *models.Entry, status models.Status) error {
	if err := x.enc.Encode(toRegistro(e, status)); err != nil {
		return fmt.Errorf("encode entry %d: %w", e.Seq, err)
	}
	return nil
}

func (x *xmlLedgerWriter) end() error {
	if err := x.enc.EncodeToken(recordsElement.End()); err != nil {
		return err
	}
	if err := x.enc.EncodeToken(rootElement.End()); err != nil {
		return err
	}
	return x.enc.Close()
}
