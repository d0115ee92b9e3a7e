package index

import "github.com/ValentinKolb/dDB/lib/sortedmap"

// FieldExtractor indexes documents by the value of a field. Documents
// without the field, with a null value or with a value that is not a valid
// key (objects, arrays) are not indexable.
func FieldExtractor(field string) ValueExtractor {
	return func(doc Document) (any, bool, error) {
		v, ok := doc.Field(field)
		if !ok || v == nil {
			return nil, false, nil
		}
		key, err := sortedmap.Normalize(v)
		if err != nil {
			log.Debugf("field %q of %s is not indexable: %v", field, doc.Identity(), err)
			return nil, false, nil
		}
		return key, true, nil
	}
}
