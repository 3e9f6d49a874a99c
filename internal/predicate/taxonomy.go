package predicate

// The file-type taxonomy: a fixed, library-defined set of format
// categories and the concrete formats under them. A FileType
// condition may name either level; categories expand to every format
// below them.

var fileTypeCategories = map[string][]string{
	"image": {
		"jpeg", "png", "gif", "webp", "tiff", "bmp",
		"heif", "heic", "avif", "ico", "qoi",
	},
	"animation": {
		"gif", "apng", "animated webp", "ugoira",
	},
	"video": {
		"mp4", "webm", "mkv", "avi", "mov",
		"flv", "wmv", "mpeg", "ogv", "realvideo",
	},
	"audio": {
		"mp3", "ogg", "flac", "wav", "m4a", "wma", "tta", "mka",
	},
	"application": {
		"pdf", "epub", "djvu", "rtf", "docx", "xlsx", "pptx", "flash",
	},
	"image project file": {
		"psd", "xcf", "krita", "clip", "sai2", "svg",
	},
	"archive": {
		"zip", "7z", "rar", "gz", "cbz",
	},
}

var knownFormats = func() map[string]bool {
	m := make(map[string]bool)
	for _, formats := range fileTypeCategories {
		for _, f := range formats {
			m[f] = true
		}
	}
	return m
}()

// expandFileTypes resolves categories to their formats, passes
// concrete formats through, and de-duplicates while preserving first
// occurrence order. Tokens outside the taxonomy are a ConfigError.
func expandFileTypes(values []string) ([]string, error) {
	seen := make(map[string]bool)
	out := []string{}
	add := func(f string) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}

	for _, v := range values {
		if formats, ok := fileTypeCategories[v]; ok {
			for _, f := range formats {
				add(f)
			}
			continue
		}
		if knownFormats[v] {
			add(v)
			continue
		}
		return nil, configErrorf("unknown file type %q", v)
	}
	return out, nil
}
