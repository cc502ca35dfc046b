package bot

import "triarb/internal/models"

// ValidTransitions определяет допустимые переходы между состояниями исполнения
//
// Прямой путь: PLANNED -> LEG1_SUBMITTED -> LEG1_FILLED -> ... -> LEG3_FILLED
// -> COMPLETED (или SIMULATED в dry-run). Из любого SUBMITTED возможен ABORTED.
var ValidTransitions = map[string][]string{
	models.ExecPlanned:       {models.ExecLeg1Submitted, models.ExecAborted},
	models.ExecLeg1Submitted: {models.ExecLeg1Filled, models.ExecAborted},
	models.ExecLeg1Filled:    {models.ExecLeg2Submitted, models.ExecAborted},
	models.ExecLeg2Submitted: {models.ExecLeg2Filled, models.ExecAborted},
	models.ExecLeg2Filled:    {models.ExecLeg3Submitted, models.ExecAborted},
	models.ExecLeg3Submitted: {models.ExecLeg3Filled, models.ExecAborted},
	models.ExecLeg3Filled:    {models.ExecCompleted, models.ExecSimulated},
	models.ExecCompleted:     {}, // терминальное
	models.ExecSimulated:     {}, // терминальное
	models.ExecAborted:       {}, // терминальное
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to string) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// StateInfo возвращает описание состояния
func StateInfo(s string) string {
	switch s {
	case models.ExecPlanned:
		return "Исполнение запланировано"
	case models.ExecLeg1Submitted, models.ExecLeg2Submitted, models.ExecLeg3Submitted:
		return "Ордер отправлен, ожидание исполнения"
	case models.ExecLeg1Filled, models.ExecLeg2Filled, models.ExecLeg3Filled:
		return "Нога исполнена"
	case models.ExecCompleted:
		return "Треугольник завершён"
	case models.ExecSimulated:
		return "Треугольник завершён (симуляция)"
	case models.ExecAborted:
		return "Исполнение прервано"
	default:
		return "Неизвестное состояние"
	}
}
