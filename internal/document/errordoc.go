package document

import "github.com/tinytelemetry/doctarget/internal/model"

// ErrorDocument describes an event error as a nested document. Method
// metadata keys are left out when the error carried no stack information.
func ErrorDocument(info *model.ErrorInfo) *Document {
	if info == nil {
		return nil
	}
	doc := New()
	setNonEmpty(doc, "Message", info.Message)
	setNonEmpty(doc, "BaseMessage", info.BaseMessage)
	setNonEmpty(doc, "Text", info.Text)
	setNonEmpty(doc, "Type", info.Type)
	doc.Set("ErrorCode", Int(int64(info.Code)))
	setNonEmpty(doc, "Source", info.Source)
	setNonEmpty(doc, "MethodName", info.MethodName)
	setNonEmpty(doc, "ModuleName", info.ModuleName)
	return doc
}

func setNonEmpty(doc *Document, key, value string) {
	if value != "" {
		doc.SetString(key, value)
	}
}
