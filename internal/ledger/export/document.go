package export

import (
	"encoding/base64"
	"encoding/xml"
	"time"

	"veriledger/internal/ledger/models"
	audit "veriledger/pkg/platform/audit"
)

// Header describes how an exported chain can be recomputed without access to
// the service.
type Header struct {
	XMLName     xml.Name `json:"-" xml:"Cabecera"`
	CompanyID   string   `json:"company_id" xml:"IdEmpresa"`
	ChainType   string   `json:"chain_type" xml:"TipoCadena"`
	Algorithm   string   `json:"algorithm" xml:"Algoritmo"`
	Formula     string   `json:"formula" xml:"Formula"`
	Genesis     string   `json:"genesis" xml:"HuellaGenesis"`
	GeneratedAt string   `json:"generated_at" xml:"FechaGeneracion"`
	FromSeq     int64    `json:"from_seq,omitempty" xml:"DesdeSecuencia,omitempty"`
	ToSeq       int64    `json:"to_seq,omitempty" xml:"HastaSecuencia,omitempty"`
}

// Entry is one chain link in the JSON export. Payload is the exact sealed
// string, so hashing its UTF-8 bytes reproduces the entry hash.
type Entry struct {
	Seq        int64  `json:"seq"`
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	PrevHash   string `json:"prev_hash"`
	Hash       string `json:"hash"`
	Code       string `json:"code"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
	IssuerID   string `json:"issuer_id,omitempty"`
	Supersedes int64  `json:"supersedes,omitempty"`
	Voids      int64  `json:"voids,omitempty"`
	Payload    string `json:"payload"`
}

// Registro is one chain link in the XML export. Contenido carries the sealed
// bytes in base64 so no XML normalization can alter them.
type Registro struct {
	XMLName         xml.Name `xml:"Registro"`
	NumeroSecuencia int64    `xml:"NumeroSecuencia"`
	Identificador   string   `xml:"Identificador"`
	Tipo            string   `xml:"Tipo"`
	HuellaAnterior  string   `xml:"HuellaAnterior"`
	Huella          string   `xml:"Huella"`
	CSV             string   `xml:"CSV"`
	Estado          string   `xml:"Estado"`
	FechaHora       string   `xml:"FechaHora"`
	Emisor          string   `xml:"Emisor,omitempty"`
	Rectifica       int64    `xml:"Rectifica,omitempty"`
	Anula           int64    `xml:"Anula,omitempty"`
	Contenido       string   `xml:"Contenido"`
}

func toEntry(e *models.Entry, status models.Status) Entry {
	return Entry{
		Seq:        e.Seq,
		ID:         e.ID.String(),
		Kind:       string(e.Kind),
		PrevHash:   e.PrevHash,
		Hash:       e.Hash,
		Code:       e.Code,
		Status:     string(status),
		CreatedAt:  e.CreatedAt.UTC().Format(time.RFC3339Nano),
		IssuerID:   e.IssuerID,
		Supersedes: e.Supersedes,
		Voids:      e.Voids,
		Payload:    string(e.Payload),
	}
}

func toRegistro(e *models.Entry, status models.Status) Registro {
	return Registro{
		NumeroSecuencia: e.Seq,
		Identificador:   e.ID.String(),
		Tipo:            string(e.Kind),
		HuellaAnterior:  e.PrevHash,
		Huella:          e.Hash,
		CSV:             e.Code,
		Estado:          string(status),
		FechaHora:       e.CreatedAt.UTC().Format(time.RFC3339Nano),
		Emisor:          e.IssuerID,
		Rectifica:       e.Supersedes,
		Anula:           e.Voids,
		Contenido:       base64.StdEncoding.EncodeToString(e.Payload),
	}
}

// EventsHeader describes an audit event export.
type EventsHeader struct {
	XMLName     xml.Name `json:"-" xml:"Cabecera"`
	CompanyID   string   `json:"company_id,omitempty" xml:"IdEmpresa,omitempty"`
	From        string   `json:"from,omitempty" xml:"Desde,omitempty"`
	To          string   `json:"to,omitempty" xml:"Hasta,omitempty"`
	EventTypes  []string `json:"event_types,omitempty" xml:"TiposEvento>Tipo,omitempty"`
	GeneratedAt string   `json:"generated_at" xml:"FechaGeneracion"`
}

// Event is one audit event in either format.
type Event struct {
	XMLName   xml.Name `json:"-" xml:"Evento"`
	ID        string   `json:"id" xml:"Identificador"`
	Category  string   `json:"category" xml:"Categoria"`
	Timestamp string   `json:"timestamp" xml:"FechaHora"`
	Action    string   `json:"action" xml:"Accion"`
	ChainType string   `json:"chain_type,omitempty" xml:"TipoCadena,omitempty"`
	Subject   string   `json:"subject,omitempty" xml:"Objeto,omitempty"`
	ActorID   string   `json:"actor_id,omitempty" xml:"Actor,omitempty"`
	Decision  string   `json:"decision,omitempty" xml:"Resultado,omitempty"`
	Reason    string   `json:"reason,omitempty" xml:"Motivo,omitempty"`
	IP        string   `json:"ip,omitempty" xml:"IP,omitempty"`
	Severity  string   `json:"severity,omitempty" xml:"Severidad,omitempty"`
	RequestID string   `json:"request_id,omitempty" xml:"IdPeticion,omitempty"`
}

func toEvent(e audit.Event) Event {
	return Event{
		ID:        e.ID.String(),
		Category:  string(e.Category),
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Action:    e.Action,
		ChainType: string(e.ChainType),
		Subject:   e.Subject,
		ActorID:   e.ActorID,
		Decision:  e.Decision,
		Reason:    e.Reason,
		IP:        e.IP,
		Severity:  string(e.Severity),
		RequestID: e.RequestID,
	}
}
