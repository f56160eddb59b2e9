package validation

import (
	"fmt"
	"regexp"
	"unicode"
)

// ColumnPattern допустимое имя колонки: оно подставляется в SQL,
// поэтому разрешены только латинские буквы, цифры и подчеркивание
var ColumnPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,63}$`)

// IDPattern допустимый идентификатор файла, группы или ключа
var IDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// MaxRowIDLen максимальная длина идентификатора строки
const MaxRowIDLen = 256

// ValidateColumn проверяет имя колонки
func ValidateColumn(column string) error {
	if !ColumnPattern.MatchString(column) {
		return fmt.Errorf("invalid column name %q", column)
	}
	return nil
}

// ValidateRowID проверяет идентификатор строки: непустой, без управляющих символов
func ValidateRowID(id string) error {
	if id == "" {
		return fmt.Errorf("row id cannot be empty")
	}
	if len(id) > MaxRowIDLen {
		return fmt.Errorf("row id must not exceed %d characters", MaxRowIDLen)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("row id contains control characters")
		}
	}
	return nil
}

// ValidateID проверяет идентификатор файла, группы или ключа
func ValidateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	if !IDPattern.MatchString(id) {
		return fmt.Errorf("%s can only contain letters, numbers, '-' and '_' (max 64)", kind)
	}
	return nil
}
