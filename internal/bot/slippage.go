package bot

import "triarb/pkg/utils"

// SlippageFn оценивает долю проскальзывания одной ноги
//
// tradeSizeUSD - размер ноги, visibleDepthUSD - видимый объём на нужной
// стороне стакана. Контракт: монотонна по размеру, ноль при нулевом размере.
type SlippageFn func(tradeSizeUSD, visibleDepthUSD float64) float64

// Параметры линейной модели импакта
const (
	slippageImpactCoeff = 0.1  // доля спреда, съедаемая на единицу глубины
	slippageMaxFraction = 0.05 // оценка не растёт выше 5% за ногу
)

// LinearSlippage - линейная модель: impact = k * size / depth, с ограничением
//
// Грубая, но консервативная: реальный рыночный ордер размером с весь
// видимый объём почти наверняка уйдёт глубже первой цены.
func LinearSlippage(tradeSizeUSD, visibleDepthUSD float64) float64 {
	if tradeSizeUSD <= 0 {
		return 0
	}
	if visibleDepthUSD <= 0 {
		// Глубина неизвестна - считаем худший случай
		return slippageMaxFraction
	}
	impact := slippageImpactCoeff * tradeSizeUSD / visibleDepthUSD
	return utils.Clamp(impact, 0, slippageMaxFraction)
}
