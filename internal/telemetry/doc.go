// Package telemetry — логирование и метрики процессов Stellara.
//
// Каждый процесс вызывает SetupLogger со своим именем компонента;
// записи пишутся в stdout в JSON (или text для разработки).
// Метрики регистрируются в реестре Prometheus по умолчанию и
// отдаются на /metrics служебным HTTP сервером.
package telemetry
