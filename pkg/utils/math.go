package utils

import (
	"math"
	"strconv"
	"strings"
)

// math.go - математические утилиты для треугольного арбитража
//
// Все функции чистые, без побочных эффектов.

// TruncateToStep усекает значение ВНИЗ до ближайшего кратного step.
//
// Используется для усечения объёма ордера до шага биржи (lot size).
// Усечение вниз гарантирует, что мы не превысим доступные средства.
// Идемпотентна: TruncateToStep(TruncateToStep(v, s), s) == TruncateToStep(v, s).
//
// Примеры:
//   - TruncateToStep(0.123456, 0.001) = 0.123
//   - TruncateToStep(1.999, 0.01) = 1.99
//   - TruncateToStep(100.5, 1.0) = 100.0
func TruncateToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	// Малый epsilon компенсирует ошибки представления float64,
	// иначе 0.123/0.001 может дать 122.99999... и усечься до 0.122
	steps := math.Floor(value/step + 1e-9)
	if steps < 0 {
		steps = 0
	}
	return steps * step
}

// TruncateToDecimals усекает значение вниз до заданного числа знаков
//
// Используется при подборе рабочей точности после отказа биржи.
func TruncateToDecimals(value float64, decimals int) float64 {
	if decimals < 0 {
		return value
	}
	pow := math.Pow(10, float64(decimals))
	return math.Floor(value*pow+1e-9) / pow
}

// StepDecimals возвращает число знаков после запятой у шага
//
// Примеры: 0.001 -> 3, 1.0 -> 0, 0.5 -> 1
func StepDecimals(step float64) int {
	if step <= 0 {
		return 0
	}
	s := strconv.FormatFloat(step, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

// SpreadPercent расчитывает bid/ask спред в процентах от bid
//
// Возвращает 0 при некорректных ценах.
func SpreadPercent(bid, ask float64) float64 {
	if bid <= 0 || ask <= 0 || ask < bid {
		return 0
	}
	return (ask - bid) / bid * 100
}

// Clamp ограничивает значение диапазоном [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
