// Package models defines core data structures for artworks, queries, and search results.
package models

// Artwork is one catalog record. The pipeline only relies on ID and ImageURL;
// the remaining fields are display metadata carried through to search results.
type Artwork struct {
	ID           int64   `json:"id"`
	ObjectNumber string  `json:"objectnumber"`
	URL          string  `json:"url"`
	ImageURL     string  `json:"image_url"`
	Dimensions   string  `json:"dimensions"`
	DimHeight    float64 `json:"dimheight"`
	DimWidth     float64 `json:"dimwidth"`

	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	LabelText   string   `json:"labeltext,omitempty"`
	People      []string `json:"people"`
	Dated       string   `json:"dated"`
	DateBegin   int      `json:"datebegin"`
	DateEnd     int      `json:"dateend"`
	Century     string   `json:"century,omitempty"`

	Department     string `json:"department"`
	Division       string `json:"division,omitempty"`
	Culture        string `json:"culture,omitempty"`
	Classification string `json:"classification"`
	Technique      string `json:"technique,omitempty"`
	Medium         string `json:"medium,omitempty"`

	AccessionYear        *int `json:"accessionyear,omitempty"`
	VerificationLevel    int  `json:"verificationlevel"`
	TotalUniquePageViews int  `json:"totaluniquepageviews"`
	TotalPageViews       int  `json:"totalpageviews"`

	Copyright  string `json:"copyright,omitempty"`
	CreditLine string `json:"creditline"`
}

// BatchChunk is a bounded group of catalog items submitted together through
// fetch and encode. IDs[i] and URLs[i] describe the same artwork.
type BatchChunk struct {
	Index int
	IDs   []int64
	URLs  []string
}

// Len returns the number of items in the chunk.
func (c *BatchChunk) Len() int {
	return len(c.IDs)
}
