package devicespec

import "fmt"

// TableType is the partition table kind of a target image.
type TableType string

const (
	TableTypeMBR TableType = "mbr"
	TableTypeGPT TableType = "gpt"
)

func (t TableType) IsValid() error {
	switch t {
	case TableTypeMBR, TableTypeGPT:
		return nil
	default:
		return fmt.Errorf("invalid partition map value (%s)", t)
	}
}

// UnmarshalText accepts "dos" as an alias for "mbr".
func (t *TableType) UnmarshalText(text []byte) error {
	value := TableType(text)
	if value == "dos" {
		value = TableTypeMBR
	}
	if err := value.IsValid(); err != nil {
		return err
	}
	*t = value
	return nil
}
