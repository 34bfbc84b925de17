package eutils

// searchResponse is the esearch JSON envelope. Only the id list matters to
// the pipeline; counts are advisory and pagination stops on an empty page.
type searchResponse struct {
	ESearchResult struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

// ConversionRecord is one id-conversion result. PMCID is empty when the
// upstream service has no mapping for the PMID, which is a valid response.
type ConversionRecord struct {
	PMID  string `json:"pmid"`
	PMCID string `json:"pmcid"`
}

// convResponse is the idconv JSON envelope.
type convResponse struct {
	Records []ConversionRecord `json:"records"`
}
