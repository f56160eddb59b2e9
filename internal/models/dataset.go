package models

import (
	"errors"
	"fmt"
)

// ErrUnknownDataset возвращается для набора данных вне известного списка
var ErrUnknownDataset = errors.New("unknown dataset")

// Dataset идентифицирует набор данных (таблицу), к которому относится сообщение.
// Список закрыт: сообщения с неизвестным набором отвергаются при разборе.
type Dataset string

// Известные наборы данных
const (
	DatasetAccounts            Dataset = "accounts"
	DatasetBanks               Dataset = "banks"
	DatasetCategories          Dataset = "categories"
	DatasetCategoryGroups      Dataset = "category_groups"
	DatasetCategoryMapping     Dataset = "category_mapping"
	DatasetPayees              Dataset = "payees"
	DatasetPayeeMapping        Dataset = "payee_mapping"
	DatasetRules               Dataset = "rules"
	DatasetSchedules           Dataset = "schedules"
	DatasetSchedulesNextDate   Dataset = "schedules_next_date"
	DatasetSchedulesJSONPaths  Dataset = "schedules_json_paths"
	DatasetTransactions        Dataset = "transactions"
	DatasetNotes               Dataset = "notes"
	DatasetZeroBudgets         Dataset = "zero_budgets"
	DatasetZeroBudgetMonths    Dataset = "zero_budget_months"
	DatasetReflectBudgets      Dataset = "reflect_budgets"
	DatasetReflectBudgetMonths Dataset = "reflect_budget_months"

	// DatasetPrefs служебный набор: синхронизируемые настройки файла.
	// В таблицы хранилища не записывается.
	DatasetPrefs Dataset = "prefs"
)

// Datasets возвращает все табличные наборы данных (без prefs)
func Datasets() []Dataset {
	return []Dataset{
		DatasetAccounts,
		DatasetBanks,
		DatasetCategories,
		DatasetCategoryGroups,
		DatasetCategoryMapping,
		DatasetPayees,
		DatasetPayeeMapping,
		DatasetRules,
		DatasetSchedules,
		DatasetSchedulesNextDate,
		DatasetSchedulesJSONPaths,
		DatasetTransactions,
		DatasetNotes,
		DatasetZeroBudgets,
		DatasetZeroBudgetMonths,
		DatasetReflectBudgets,
		DatasetReflectBudgetMonths,
	}
}

// ParseDataset проверяет имя набора данных
func ParseDataset(name string) (Dataset, error) {
	d := Dataset(name)
	if d == DatasetPrefs {
		return d, nil
	}
	for _, known := range Datasets() {
		if d == known {
			return d, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDataset, name)
}

// IsPrefs сообщает, что набор служебный
func (d Dataset) IsPrefs() bool { return d == DatasetPrefs }

// Table возвращает имя таблицы для уведомлений подписчиков.
// schedules_next_date сообщается как schedules.
func (d Dataset) Table() string {
	if d == DatasetSchedulesNextDate {
		return string(DatasetSchedules)
	}
	return string(d)
}

func (d Dataset) String() string { return string(d) }
