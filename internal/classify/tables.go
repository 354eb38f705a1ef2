package classify

import "github.com/upkeep-io/upkeep/pkg/protocol"

// builtinCategories holds the keyword tables for the three work
// groups. The tables are data, maintained by the operations team, and
// intentionally redundant: a keyword may appear under several
// categories, the scoring picks the densest match.
var builtinCategories = map[protocol.Group][]category{
	protocol.GroupSVS: {
		{"Настройка температуры / обдува", []string{
			"обдув", "кондиционер", "тепло", "холодно", "температура в помещении", "душно",
			"температурный режим", "температур", "режим", "прохлад",
		}},
		{"Ремонт вентиляции / кондиционера", []string{
			"вентиляция", "кондиционер", "холодно", "душно", "жарко", "температура", "режим",
			"вентиляц", "температур",
		}},
		{"Протечки", []string{
			"протечка", "капает", "потолок", "вода", "туалет", "раковина", "умывальник",
			"протеч", "капл",
		}},
		{"Автоматическая установка пожаротушения", []string{
			"автоматическая установка пожаротушения", "проверка оборудования",
			"установка оборудования", "пожарный кран", "аупт", "пожаротушен", "спринклер",
			"ороситель",
		}},
		{"Засор", []string{
			"засор", "туалет", "раковина", "умывальник", "вода", "сантехник", "засорение",
			"канализац", "забилось", "не уходит вода", "слив", "трап",
		}},
		{"Неприятный запах", []string{
			"запах", "туалет", "воняет", "вентиляция", "канализация", "амбре", "смрад",
		}},
		{"Отопление", []string{
			"отопление", "тепло", "холодно", "радиатор", "батаре", "котельн",
		}},
	},
	protocol.GroupSGE: {
		{"Замена освещения", []string{
			"лампочка", "освещение", "свет", "перегорела", "заменить лампу", "замена света",
		}},
		{"Неисправность / монтаж розетки", []string{
			"розетка", "электричество", "контакт", "искрит", "штепсель", "монтаж розетки",
		}},
		{"Электрощит / питание", []string{
			"электрощит", "питание", "свет", "щиток", "автомат", "фаза", "выбивает",
		}},
		{"Эвакуационное освещение", []string{
			"освещение", "эвакуация", "свет", "эвакуацион", "exit",
		}},
		{"Провода", []string{
			"провода", "оголенные", "опасность", "поражение электрическим током", "кабель",
			"проводка", "оголен", "оголён",
		}},
		{"Направление освещения", []string{
			"освещение", "перенаправить", "свет", "лампочка", "свет на этаже", "направлен",
			"угол света", "перенастроить свет",
		}},
	},
	protocol.GroupSST: {
		{"Выключить / включить музыку", []string{
			"музыка", "громкость", "играет не громко", "музыкальное сопровождение",
			"включить музыку", "выключить музыку", "звук",
		}},
		{"Датчики дымовые (отключение, демонтаж/монтаж)", []string{
			"датчик", "дым", "датчик дыма", "дымовой", "пожарный датчик", "отключить датчик",
			"демонтаж",
		}},
		{"Оповещатель речевой (отключение, демонтаж/монтаж)", []string{
			"речевой оповещатель", "оповещатель", "громкоговор", "сирена",
		}},
		{"Настройка/ремонт систем автоматики", []string{
			"система автоматики", "настройка системы", "ремонт автоматики",
			"проверка автоматики", "автоматика", "контроллер", "система управлен",
		}},
	},
}
