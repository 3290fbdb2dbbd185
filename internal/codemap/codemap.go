// Package codemap translates provider vocabulary into internal vocabulary.
// Unknown codes pass through unchanged so they never block a sync.
package codemap

import "github.com/BearBump/BoxSync/internal/models"

type Table int

const (
	Carrier Table = iota
	Port
	Node
	Status
)

var carrierCodes = map[string]string{
	"MAEU": "MSK",
	"MSCU": "MSC",
	"CMDU": "CMA",
	"COS":  "COSCO",
	"OOLU": "OOCL",
	"EGLV": "EMC",
	"HLCU": "HLC",
	"ONEY": "ONE",
	"YMLU": "YML",
	"HDMU": "HMM",
	"ZIMU": "ZIM",
	"PCLU": "PIL",
	"WHLC": "WHL",
	"SMLM": "SML",
	"KMTU": "KMTC",
	"RCL":  "RCL",
	"TSLU": "TSL",
	"IAL":  "IAL",
	"NOSU": "NOS",
	"JJ":   "JJ",
}

var portCodes = map[string]string{
	"CNSHG": "CNSHA",
	"CNGGZ": "CNCAN",
	"CNTNJ": "CNTSN",
	"CNSHA": "CNSHA",
	"CNNSA": "CNNSA",
	"CNSZX": "CNSZX",
	"CNNGB": "CNNGB",
	"CNXMN": "CNXMN",
	"CNTAO": "CNTAO",
	"CNDLC": "CNDLC",
	"HKHKG": "HKHKG",
	"SGSIN": "SGSIN",
	"USLAX": "USLAX",
	"USLGB": "USLGB",
	"DEHAM": "DEHAM",
	"NLRTM": "NLRTM",
}

var nodeCodes = map[string]string{
	"BOOKED":            "BOOKED",
	"EMPTY_PICKUP":      "EMPTY_PICKUP",
	"GATE_IN":           "GATE_IN",
	"CUSTOMS_HOLD":      "CUSTOMS_HOLD",
	"CUSTOMS_RELEASED":  "CUSTOMS_RELEASED",
	"TERMINAL_HOLD":     "TERMINAL_HOLD",
	"TERMINAL_RELEASED": "TERMINAL_RELEASED",
	"LOADED":            "LOADED",
	"DEPARTURE":         "DEPARTURE",
	"TRANSSHIPMENT":     "TRANSSHIPMENT",
	"ARRIVAL":           "ARRIVAL",
	"DISCHARGED":        "DISCHARGED",
	"CUSTOMS_IMPORT":    "CUSTOMS_IMPORT",
	"FULL_PICKUP":       "FULL_PICKUP",
	"EMPTY_RETURN":      "EMPTY_RETURN",
	"DELIVERED":         "DELIVERED",
	"COMPLETED":         "COMPLETED",
}

var statusCodes = map[string]string{
	"PENDING":    "BOOKED",
	"IN_TRANSIT": "DEPARTURE",
	"BOOKED":     "BOOKED",
	"DEPARTURE":  "DEPARTURE",
	"ARRIVAL":    "ARRIVAL",
	"DELIVERED":  "DELIVERED",
	"COMPLETED":  "COMPLETED",
	"CANCELLED":  "CANCELLED",
}

var tables = map[Table]map[string]string{
	Carrier: carrierCodes,
	Port:    portCodes,
	Node:    nodeCodes,
	Status:  statusCodes,
}

// Map returns the internal code for an external one, or the input unchanged.
func Map(t Table, code string) string {
	if code == "" {
		return ""
	}
	if v, ok := tables[t][code]; ok {
		return v
	}
	return code
}

// Normalize rewrites every coded field of the snapshot in place.
func Normalize(s *models.Snapshot) {
	if s == nil {
		return
	}
	s.CarrierCode = Map(Carrier, s.CarrierCode)
	s.OriginPort = Map(Port, s.OriginPort)
	s.DestinationPort = Map(Port, s.DestinationPort)
	s.Status = Map(Status, s.Status)
	for i := range s.Events {
		s.Events[i].NodeCode = Map(Node, s.Events[i].NodeCode)
		s.Events[i].LocationCode = Map(Port, s.Events[i].LocationCode)
	}
}
