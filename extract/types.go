package extract

// Format identifies the extractor family for a document.
type Format string

const (
	FormatPDF   Format = "pdf"
	FormatDocx  Format = "docx"
	FormatXlsx  Format = "xlsx"
	FormatPptx  Format = "pptx"
	FormatODT   Format = "odt"
	FormatHTML  Format = "html"
	FormatXML   Format = "xml"
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
	FormatTSV   Format = "tsv"
	FormatTXT   Format = "txt"
	FormatMD    Format = "md"
	FormatRTF   Format = "rtf"
	FormatImage Format = "image"
)

// formatByExt maps a lowercased extension to its Format.
var formatByExt = map[string]Format{
	"pdf":      FormatPDF,
	"docx":     FormatDocx,
	"xlsx":     FormatXlsx,
	"pptx":     FormatPptx,
	"odt":      FormatODT,
	"html":     FormatHTML,
	"htm":      FormatHTML,
	"xhtml":    FormatHTML,
	"xml":      FormatXML,
	"json":     FormatJSON,
	"csv":      FormatCSV,
	"tsv":      FormatTSV,
	"txt":      FormatTXT,
	"text":     FormatTXT,
	"log":      FormatTXT,
	"md":       FormatMD,
	"markdown": FormatMD,
	"rtf":      FormatRTF,
	"png":      FormatImage,
	"jpg":      FormatImage,
	"jpeg":     FormatImage,
	"gif":      FormatImage,
	"bmp":      FormatImage,
	"tif":      FormatImage,
	"tiff":     FormatImage,
	"webp":     FormatImage,
}

// Table is a grid of string cells, row-major.
type Table [][]string

// Page is one page (or sheet, or slide) of a document.
type Page struct {
	Number     int     `json:"number"`
	Text       string  `json:"text"`
	Tables     []Table `json:"tables,omitempty"`
	ImageCount int     `json:"image_count"`
	Confidence float64 `json:"confidence"`
}

// Record is the raw content of one document.
type Record struct {
	Success       bool              `json:"success"`
	FileID        string            `json:"file_id"`
	Filename      string            `json:"filename"`
	DocumentType  string            `json:"document_type"`
	RawText       string            `json:"raw_text"`
	Pages         []Page            `json:"pages"`
	Tables        []Table           `json:"tables"`
	KeyValuePairs map[string]string `json:"key_value_pairs"`
	Metadata      map[string]string `json:"metadata"`
	Language      string            `json:"language"`
	WordCount     int               `json:"word_count"`
	CharCount     int               `json:"char_count"`
	PageCount     int               `json:"page_count"`
	Method        string            `json:"extraction_method"`
	Confidence    float64           `json:"confidence"`
	Quality       *Quality          `json:"quality,omitempty"`
	Chunks        []string          `json:"chunks"`
	Errors        []string          `json:"errors"`
	Warnings      []string          `json:"warnings"`
}

func newRecord() *Record {
	return &Record{
		KeyValuePairs: map[string]string{},
		Metadata:      map[string]string{},
		Errors:        []string{},
		Warnings:      []string{},
	}
}

func (r *Record) warn(msg string) { r.Warnings = append(r.Warnings, msg) }

// Result is what one extraction strategy returns: a record or an error,
// never both.
type Result struct {
	Record *Record
	Err    error
}

// OK wraps a successful extraction.
func OK(rec *Record) Result { return Result{Record: rec} }

// Fail wraps a failed extraction.
func Fail(err error) Result { return Result{Err: err} }
