package export

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"veriledger/internal/ledger/models"
	id "veriledger/pkg/domain"
)

// LedgerDocument is a parsed ledger export, ready to be re-verified.
type LedgerDocument struct {
	Header  Header
	Scope   models.Scope
	Entries []*models.Entry
}

type jsonLedgerDoc struct {
	Header  Header  `json:"header"`
	Entries []Entry `json:"entries"`
}

type xmlLedgerDoc struct {
	XMLName   xml.Name   `xml:"RegistroAuditoria"`
	Header    Header     `xml:"Cabecera"`
	Registros []Registro `xml:"Registros>Registro"`
}

// ReadLedger parses a JSON or XML ledger export. The format is detected from
// the first non-space byte.
func ReadLedger(r io.Reader) (*LedgerDocument, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("export is empty")
	}

	doc := &LedgerDocument{}
	if trimmed[0] == '<' {
		var x xmlLedgerDoc
		if err := xml.Unmarshal(trimmed, &x); err != nil {
			return nil, fmt.Errorf("parse xml export: %w", err)
		}
		doc.Header = x.Header
		for _, r := range x.Registros {
			payload, err := base64.StdEncoding.DecodeString(r.Contenido)
			if err != nil {
				return nil, fmt.Errorf("registro %d: invalid Contenido: %w", r.NumeroSecuencia, err)
			}
			e, err := buildEntry(r.NumeroSecuencia, r.Identificador, r.Tipo, r.HuellaAnterior, r.Huella, r.CSV,
				r.FechaHora, r.Emisor, r.Rectifica, r.Anula, payload)
			if err != nil {
				return nil, err
			}
			doc.Entries = append(doc.Entries, e)
		}
	} else {
		var j jsonLedgerDoc
		if err := json.Unmarshal(trimmed, &j); err != nil {
			return nil, fmt.Errorf("parse json export: %w", err)
		}
		doc.Header = j.Header
		for _, r := range j.Entries {
			e, err := buildEntry(r.Seq, r.ID, r.Kind, r.PrevHash, r.Hash, r.Code,
				r.CreatedAt, r.IssuerID, r.Supersedes, r.Voids, []byte(r.Payload))
			if err != nil {
				return nil, err
			}
			doc.Entries = append(doc.Entries, e)
		}
	}

	scope, err := models.NewScope(doc.Header.CompanyID, doc.Header.ChainType)
	if err != nil {
		return nil, fmt.Errorf("export header: %w", err)
	}
	doc.Scope = scope
	for _, e := range doc.Entries {
		e.Scope = scope
	}
	return doc, nil
}

func buildEntry(seq int64, entryID, kind, prevHash, hash, code, createdAt, issuer string, supersedes, voids int64, payload []byte) (*models.Entry, error) {
	u, err := uuid.Parse(entryID)
	if err != nil {
		return nil, fmt.Errorf("entry %d: invalid id: %w", seq, err)
	}
	at, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("entry %d: invalid timestamp: %w", seq, err)
	}
	return &models.Entry{
		ID:         id.EntryID(u),
		Seq:        seq,
		Kind:       models.EntryKind(kind),
		Payload:    payload,
		PrevHash:   prevHash,
		Hash:       hash,
		Code:       code,
		Supersedes: supersedes,
		Voids:      voids,
		CreatedAt:  at,
		IssuerID:   issuer,
	}, nil
}
