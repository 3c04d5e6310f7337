package frontier

import (
	"github.com/spf13/cast"
)

// FromKeyValues builds entry metadata from a record source. Values under the
// "metadata" object are coerced to string lists; scalars become one-element
// lists and values that cannot be represented as strings are dropped.
func FromKeyValues(source map[string]any) Metadata {
	md := Metadata{}
	raw, ok := source[FieldMetadata]
	if !ok || raw == nil {
		return md
	}
	fields, err := cast.ToStringMapE(raw)
	if err != nil {
		return md
	}
	for key, value := range fields {
		if vals, ok := toStrings(value); ok {
			md[key] = vals
		}
	}
	return md
}

func toStrings(value any) ([]string, bool) {
	switch v := value.(type) {
	case nil:
		return nil, false
	case string:
		return []string{v}, true
	case []string:
		return append([]string(nil), v...), true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, err := cast.ToStringE(item)
			if err != nil {
				continue
			}
			out = append(out, s)
		}
		return out, true
	default:
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, false
		}
		return []string{s}, true
	}
}

// PartitionValue reads the partition key of a source, the way stores bucket it.
func PartitionValue(source map[string]any, field string) string {
	fields, err := cast.ToStringMapE(source[FieldMetadata])
	if err != nil {
		return ""
	}
	vals, ok := toStrings(fields[field])
	if !ok || len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// GroupBuckets groups records by partition value, keeping first-seen bucket
// order and the original order within each bucket.
func GroupBuckets(partitions []string, records []RawRecord) []Bucket {
	index := make(map[string]int)
	buckets := make([]Bucket, 0)
	for i, rec := range records {
		key := ""
		if i < len(partitions) {
			key = partitions[i]
		}
		pos, ok := index[key]
		if !ok {
			pos = len(buckets)
			index[key] = pos
			buckets = append(buckets, Bucket{Partition: key})
		}
		buckets[pos].Records = append(buckets[pos].Records, rec)
	}
	return buckets
}
