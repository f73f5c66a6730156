package signals

import "bytes"

type extSet map[string]struct{}

func newExtSet(exts ...string) extSet {
	s := make(extSet, len(exts))
	for _, e := range exts {
		s[e] = struct{}{}
	}
	return s
}

func (s extSet) has(ext string) bool {
	_, ok := s[ext]
	return ok
}

// Extension tiers.
var (
	criticalExts = newExtSet(
		"exe", "bat", "cmd", "ps1", "dll", "scr", "vbs", "com", "pif", "msi",
		"wsf", "vbe", "jse", "lnk",
	)
	highRiskExts = newExtSet(
		"js", "jar", "hta", "jse", "wsh", "app", "apk", "dex", "sh", "bash",
	)
	archiveExts = newExtSet("zip", "rar", "7z", "iso", "img", "tar", "gz", "bz2")

	// safeTextExts are exempt from the extension, entropy and strings signals.
	safeTextExts = newExtSet("txt", "log", "csv", "md", "json", "xml", "html", "css")

	// relaxedEntropyExts are high-entropy by construction.
	relaxedEntropyExts = newExtSet("pdf", "docx", "xlsx", "pptx", "zip", "rar", "7z", "png", "jpg", "jpeg")

	bulkTextExts = newExtSet("txt", "log", "csv", "xml", "json")
	officeExts   = newExtSet("doc", "docx", "xls", "xlsx", "ppt", "pptx")

	executableExts = newExtSet("exe", "dll", "scr", "com", "sys")
	imageExts      = newExtSet("jpg", "jpeg", "png", "gif")

	// zipContainerExts are zip files under another name.
	zipContainerExts = newExtSet(
		"zip", "docx", "xlsx", "pptx", "odt", "ods", "odp", "jar", "apk", "epub",
	)
)

func isExecutableTier(ext string) bool {
	return criticalExts.has(ext) || highRiskExts.has(ext)
}

// TypeKind groups detected file types for the mismatch rules.
type TypeKind int

const (
	KindUnknown TypeKind = iota
	KindExecutable
	KindArchive
	KindDocument
	KindImage
	KindAudio
	KindVideo
)

// FileType is a type recovered from a binary signature.
type FileType struct {
	MIME string
	Kind TypeKind
	// Exts are the extensions this type is legitimately stored under.
	Exts extSet
}

// UnknownType is reported when no signature matches.
var UnknownType = FileType{MIME: "application/octet-stream", Kind: KindUnknown}

type magicSignature struct {
	magic []byte
	typ   FileType
}

var (
	typeExecutable = FileType{MIME: "application/x-msdownload", Kind: KindExecutable, Exts: executableExts}
	typeZip        = FileType{MIME: "application/zip", Kind: KindArchive, Exts: zipContainerExts}
	typeRar        = FileType{MIME: "application/x-rar", Kind: KindArchive, Exts: newExtSet("rar")}
	type7z         = FileType{MIME: "application/x-7z-compressed", Kind: KindArchive, Exts: newExtSet("7z")}
	typePDF        = FileType{MIME: "application/pdf", Kind: KindDocument, Exts: newExtSet("pdf")}
	typeJPEG       = FileType{MIME: "image/jpeg", Kind: KindImage, Exts: imageExts}
	typePNG        = FileType{MIME: "image/png", Kind: KindImage, Exts: imageExts}
	typeGIF        = FileType{MIME: "image/gif", Kind: KindImage, Exts: imageExts}
	typeBMP        = FileType{MIME: "image/bmp", Kind: KindImage, Exts: newExtSet("bmp")}
	typeMP3        = FileType{MIME: "audio/mpeg", Kind: KindAudio, Exts: newExtSet("mp3")}
	typeMKV        = FileType{MIME: "video/x-matroska", Kind: KindVideo, Exts: newExtSet("mkv")}
)

// signatures are checked in order; the first prefix match wins.
var signatures = []magicSignature{
	{[]byte("MZ"), typeExecutable},
	{[]byte("PK\x03\x04"), typeZip},
	{[]byte("Rar"), typeRar},
	{[]byte("7z\xBC\xAF\x27\x1C"), type7z},
	{[]byte("%PDF"), typePDF},
	{[]byte("\xFF\xD8\xFF"), typeJPEG},
	{[]byte("\x89PNG"), typePNG},
	{[]byte("GIF8"), typeGIF},
	{[]byte("BM"), typeBMP},
	{[]byte("ID3"), typeMP3},
	{[]byte("\xFF\xFB"), typeMP3},
	{[]byte("\xFF\xF3"), typeMP3},
	{[]byte("\x1A\x45\xDF\xA3"), typeMKV},
}

// DetectType matches a file header against the signature table.
func DetectType(header []byte) FileType {
	for _, sig := range signatures {
		if bytes.HasPrefix(header, sig.magic) {
			return sig.typ
		}
	}
	return UnknownType
}

// Embedded string patterns, matched case-insensitively.
var (
	criticalPatterns = []string{
		"winexec", "shellexecute", "createprocessa", "createprocessw",
		"getprocaddress", "loadlibrarya", "loadlibraryw", "virtualalloc",
		"setwindowshookex", "setwineventhook", "internetopena", "httpsendrequest",
		"cmd.exe", "powershell.exe", "bash", "/bin/sh",
	}
	suspiciousPatterns = []string{
		"createremotethread", "writeprocessmemory", "readprocessmemory",
		"virtualprotect", "setfilepointer", "createnamedpipe",
		"registry", "hklm", "hkcu", "system32", "sysnative",
		"mutex", "zwcreatekey", "regopenkey",
	}
)

// deceptiveWords suggest a document or spreadsheet, in English and
// Portuguese.
var deceptiveWords = []string{
	"document", "report", "spreadsheet", "invoice", "statement",
	"documento", "relatório", "relatorio", "planilha", "fatura", "recibo",
}
